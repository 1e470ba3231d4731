package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "teamloop",
	Level: hclog.LevelFromString("INFO"),
})
