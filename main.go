package main

import "github.com/Smart-Cart-System/cart-kiosk/cmd"

func main() {
	cmd.Execute()
}
