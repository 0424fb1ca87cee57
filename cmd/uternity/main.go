// Command uternity はUTERNITYの認証・チャット・音声練習サービスを起動する。
//
// 使い方:
//
//	uternity [auth|chat|voice]
//	uternity healthcheck [auth|chat|voice]
package main

import (
	"fmt"
	"os"

	"github.com/uternity/gateway/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "uternity: %v\n", err)
		os.Exit(1)
	}
}
