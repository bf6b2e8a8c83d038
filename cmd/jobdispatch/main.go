// Command jobdispatch operates a job-dispatch store: it submits and
// inspects jobs, performs administrative transitions and runs workers.
//
// Configuration is read from a .env file in the working directory, then
// from JOBDISPATCH_* environment variables, then from flags.
package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal("failed to load .env: ", err)
	}

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	a := newApp(cfg, os.Stderr)
	err = newRootCmd(a).Execute()
	if cerr := a.close(); cerr != nil {
		log.Print("close: ", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
