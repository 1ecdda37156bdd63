// Command usbcrypt drives a USB crypto token from the shell.
package main

import "github.com/ardnew/usbcrypt/internal/cli"

func main() {
	cli.Execute()
}
