package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/manifoldco/promptui"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

// fatal reports failures that happen before a logger exists.
func fatal(step string, err error) {
	log.Fatalf("%s: %v", step, err)
}

// confirm asks a yes/no question unless assumeYes is set.
func confirm(label string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}

	prompt := promptui.Select{
		Label: label,
		Items: []string{PromptNo, PromptYes},
	}
	_, answer, err := prompt.Run()
	if err != nil {
		return false, err
	}

	return answer == PromptYes, nil
}

func printJSON(v any) {
	// do not bother error since the values are plain structs
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(os.Stdout, string(pretty))
}
