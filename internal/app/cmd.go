package app

import (
	"fmt"
	"strings"
)

// Command はサブコマンド。
type Command string

const (
	// CommandServe はOAuthログインAPIと通知プッシュ配信を提供する。
	CommandServe Command = "serve"
	// CommandWorker は保持期間を過ぎた既読通知を定期削除する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを叩いて終了する。
	// distrolessイメージのHEALTHCHECK用で、設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

// commands はUsageに表示する順のサブコマンド一覧。
var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return "usage: tsudoi [" + strings.Join(names, "|") + "]"
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がなければserve。未知のサブコマンドはtypoでサーバーが起動しないようエラーにする。
// 2番目以降の引数は見ない。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q; %s", args[0], Usage())
}
