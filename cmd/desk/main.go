package main

import (
	"os"

	commonlog "desk_server/server/common/log"
)

func main() {
	defer commonlog.Sync()
	if err := rootCmd.Execute(); err != nil {
		commonlog.Errorf("event=desk_cli status=failed err=%v", err)
		commonlog.Sync()
		os.Exit(1)
	}
}
