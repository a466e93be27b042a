package app

import "strings"

// Command はtimecardバイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck" // distrolessイメージのDockerヘルスチェック用
	CommandGrantStaff  Command = "grant-staff"
)

// commandUsages はサブコマンドと引数書式の一覧。Usageの出力順を兼ねる。
var commandUsages = []struct {
	cmd  Command
	args string
}{
	{CommandServe, ""},
	{CommandWorker, ""},
	{CommandMigrate, "[status]"},
	{CommandGrantStaff, "<email> [display name]"},
	{CommandHealthcheck, ""},
}

// ParseCommand は先頭の引数からサブコマンドを決定する。
// 引数なし、または未知の値はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	for _, u := range commandUsages {
		if string(u.cmd) == args[0] {
			return u.cmd
		}
	}
	return CommandServe
}

// Usage はサブコマンドの書式を返す。cmdが空の場合は全コマンドを列挙する。
func Usage(cmd Command) string {
	var b strings.Builder
	b.WriteString("usage:")
	for _, u := range commandUsages {
		if cmd != "" && u.cmd != cmd {
			continue
		}
		b.WriteString("\n  timecard ")
		b.WriteString(string(u.cmd))
		if u.args != "" {
			b.WriteString(" ")
			b.WriteString(u.args)
		}
	}
	return b.String()
}
