package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/adapters"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/gateway"
)

var modelsProvider string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models per provider",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "List models for a single provider")
}

func runModels(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw := gateway.New(cfg, nil, cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, spec := range adapters.Specs {
		if modelsProvider != "" && spec.Name != modelsProvider {
			continue
		}

		a, err := gw.Adapter(spec.Name)
		if err != nil {
			fmt.Printf("%s: %v\n\n", spec.DisplayName, err)
			continue
		}

		fmt.Printf("%s:\n", spec.DisplayName)
		for _, m := range a.Models(ctx) {
			tools := " "
			if m.SupportsTools {
				tools = "🛠"
			}
			if m.Pricing.InputPerMillion == 0 && m.Pricing.OutputPerMillion == 0 {
				fmt.Printf("  %s %-32s free\n", tools, m.ID)
				continue
			}
			fmt.Printf("  %s %-32s $%.2f/$%.2f per 1M tokens\n",
				tools, m.ID, m.Pricing.InputPerMillion, m.Pricing.OutputPerMillion)
		}
		fmt.Println()
	}
	return nil
}
