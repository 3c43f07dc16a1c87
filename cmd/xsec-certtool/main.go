package main

import (
	"os"

	"xsec-crypto/cmd/xsec-certtool/app"
)

func main() {
	os.Exit(app.Execute())
}
