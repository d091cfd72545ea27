package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/adapters"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/gateway"
)

var statusValidate bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show modelgate status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusValidate, "validate", false, "Validate provider credentials against the live endpoints")
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	fmt.Printf("%s modelgate Status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:    %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	fmt.Printf("Active:    %s\n", cfg.ActiveProvider)
	fmt.Printf("Tool loop: %d rounds max\n\n", cfg.MaxToolRounds)

	gw := gateway.New(cfg, nil, cfg, nil, nil)

	fmt.Println("Providers:")
	for _, spec := range adapters.Specs {
		pc := cfg.Provider(spec.Name)
		configured := pc.APIKey != "" || pc.BaseURL != "" ||
			(!spec.RequiresKey && spec.DefaultBaseURL != "") ||
			(spec.EnvKey != "" && os.Getenv(spec.EnvKey) != "")

		activeMark := " "
		if spec.Name == cfg.ActiveProvider {
			activeMark = "*"
		}

		switch {
		case !configured:
			fmt.Printf(" %s %-12s (not set)\n", activeMark, spec.DisplayName)
		case statusValidate:
			fmt.Printf(" %s %-12s %s\n", activeMark, spec.DisplayName, validateMark(gw, spec.Name))
		default:
			fmt.Printf(" %s %-12s ✓\n", activeMark, spec.DisplayName)
		}
	}
	return nil
}

func validateMark(gw *gateway.Gateway, provider string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := gw.Adapter(provider)
	if err != nil {
		return "✗ " + err.Error()
	}
	if a.ValidateCredential(ctx) {
		return "✓ credential ok"
	}
	return "✗ credential rejected"
}
