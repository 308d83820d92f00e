package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tsudoi/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの共通形式。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はAPIErrorを共通形式で書き込む。
// 認証情報に依存する応答を中間キャッシュに残さないよう、エラーは常にno-storeで返す。
// apiErrがnilなら内部エラーとして扱う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		statusCode, apiErr = http.StatusInternalServerError, internalError()
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteUnauthorized は401を返す。トークンの欠落・失効・改ざんは区別しない。
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// WriteInvalidRequest は理由つきの400を返す。
func WriteInvalidRequest(w http.ResponseWriter, reason string) {
	WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
}

// WriteInternalServerError は詳細を伏せた500を返す。詳細はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError())
}

func internalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
