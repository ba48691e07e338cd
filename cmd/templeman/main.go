// Command templeman は寺院会員管理のBFFサーバーを起動する。
//
// サブコマンド:
//
//	serve        APIサーバー（デフォルト）
//	worker       期限切れデータの定期削除
//	migrate      データベースマイグレーションの適用
//	healthcheck  /health への疎通確認（コンテナのヘルスチェック用）
//	help         サブコマンド一覧
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/templeman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "templeman: %v\n", err)
		os.Exit(1)
	}
}
