package main

import (
	"os"

	"github.com/gooddata/sso-url/sso-url/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
