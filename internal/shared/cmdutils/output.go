package cmdutils

import "fmt"

const logo = "⛩"

// PrintResponse prints an assistant reply with the modelgate banner.
func PrintResponse(text string) {
	if text == "" {
		return
	}

	fmt.Printf("\n%s modelgate\n%s\n\n", logo, text)
}

// PrintError prints a user-facing error line.
func PrintError(msg string) {
	if msg == "" {
		return
	}
	fmt.Printf("\n%s modelgate error\n%s\n\n", logo, msg)
}
