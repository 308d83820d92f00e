// Command tsudoi はOAuthログインと通知プッシュ配信を提供するサーバー。
//
// 使い方:
//
//	tsudoi [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tsudoi/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tsudoi: %v\n", err)
		os.Exit(1)
	}
}
