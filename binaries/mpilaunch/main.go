package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/cli"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/log/hooks"
)

// Runs MPI jobs on leased cluster slots.
//	Supported commands: (see "-h" for all options)
//		submit -a <app> -p <prefix> (-n <procs> | -N <nodes> --ppn <per node>) [--launcher hydra|orte]
//		master
//		tail <path>
//		serve_dfs --root <dir>
//	Global flags:
//		--log_level [<error|info|debug> level and above should be logged]
//	Exits with the job's status: 0 on success, 1 if any process failed, 64-74 on setup errors.

func main() {
	log.AddHook(hooks.NewContextHook())

	if err := cli.NewSimpleCLIClient().Exec(); err != nil {
		code := errs.ExitCodeOf(err)
		log.WithField("exitCode", code).Error(err)
		os.Exit(int(code))
	}
}
