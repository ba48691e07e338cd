package app

import (
	"errors"
	"fmt"
)

// Command はtemplemanの起動モード。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	CommandHelp        Command = "help"
)

// ErrUnknownCommand は未対応のサブコマンドが指定された場合のエラー。
var ErrUnknownCommand = errors.New("unknown command")

// Usage はサブコマンドの一覧。
const Usage = `usage: templeman [command]

commands:
  serve        BFFサーバーを起動し、行事フィードを定期取り込みする（デフォルト）
  worker       期限切れセッションの定期削除を実行する
  migrate      データベースマイグレーションを適用する
  healthcheck  起動中サーバーの/healthを確認する
  help         この一覧を表示する
`

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数なしはserve。2番目以降の引数は見ない。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}

	switch c := Command(args[0]); c {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck, CommandHelp:
		return c, nil
	case "-h", "--help":
		return CommandHelp, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownCommand, args[0])
	}
}
