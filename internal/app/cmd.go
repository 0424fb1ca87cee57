package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandAuth は認証サービスとして起動することを示す。
	CommandAuth Command = "auth"
	// CommandChat はチャットサービスとして起動することを示す。
	CommandChat Command = "chat"
	// CommandVoice は音声練習サービスとして起動することを示す。
	CommandVoice Command = "voice"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandAuthを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandAuth
	}

	switch args[0] {
	case "auth":
		return CommandAuth
	case "chat":
		return CommandChat
	case "voice":
		return CommandVoice
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandAuth
	}
}

// ParseHealthcheckTarget はhealthcheckサブコマンドの対象サービスを解析する。
// 例: ["healthcheck", "chat"] はCommandChat。対象が未指定または不明な場合はCommandAuth。
func ParseHealthcheckTarget(args []string) Command {
	if len(args) < 2 {
		return CommandAuth
	}
	target := ParseCommand(args[1:])
	if target == CommandHealthcheck {
		return CommandAuth
	}
	return target
}
