// Command token mints a signed bearer token for development and testing.
//
// Usage:
//
//	token -secret mysecret -identity jane@example.com -roles admin,editor
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/distill-api/distill/core/access"
)

var (
	secret   = flag.String("secret", "", "the HMAC secret the service verifies tokens with")
	identity = flag.String("identity", "", "the identity claim, typically an email address")
	roles    = flag.String("roles", "", "comma-separated roles")
)

func main() {
	flag.Parse()
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "missing -secret")
		os.Exit(1)
	}
	var roleList []string
	if *roles != "" {
		roleList = strings.Split(*roles, ",")
	}
	token, err := access.NewToken([]byte(*secret), *identity, roleList...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
