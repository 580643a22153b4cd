package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はスケジューラと管理APIサーバーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandAggregate は集約ランを1回だけ同期実行することを示す。
	CommandAggregate Command = "aggregate"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeed はシードファイルの内容をデータベースへ同期することを示す。
	CommandSeed Command = "seed"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "aggregate":
		return CommandAggregate
	case "migrate":
		return CommandMigrate
	case "seed":
		return CommandSeed
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandWorker
	}
}
