package cmd

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"lakeloader/internal/config"
	"lakeloader/internal/security"
	"lakeloader/internal/ui"
	"lakeloader/pkg/models"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initial configuration setup",
	Run:   runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) {
	ui.ShowHeader("LakeLoader Setup")

	if config.Exists() {
		var overwrite bool
		prompt := &survey.Confirm{
			Message: "Configuration already exists. Do you want to overwrite it?",
			Default: false,
		}
		survey.AskOne(prompt, &overwrite)
		if !overwrite {
			fmt.Println("Setup cancelled.")
			return
		}
	}

	cfg := &models.Config{}

	fmt.Println("Warehouse Configuration")
	fmt.Println("-----------------------")

	warehouseQs := []*survey.Question{
		{
			Name: "account",
			Prompt: &survey.Input{
				Message: "Warehouse account (e.g., xy12345.us-east-1):",
			},
			Validate: survey.Required,
		},
		{
			Name: "username",
			Prompt: &survey.Input{
				Message: "Username:",
			},
			Validate: survey.Required,
		},
		{
			Name: "password",
			Prompt: &survey.Password{
				Message: "Password:",
			},
			Validate: survey.Required,
		},
		{
			Name: "role",
			Prompt: &survey.Input{
				Message: "Role:",
				Default: "LOADER",
			},
		},
		{
			Name: "warehouse",
			Prompt: &survey.Input{
				Message: "Compute warehouse:",
				Default: "LOAD_WH",
			},
		},
		{
			Name: "database",
			Prompt: &survey.Input{
				Message: "Database:",
				Default: "ANALYTICS",
			},
		},
		{
			Name: "schema",
			Prompt: &survey.Input{
				Message: "Schema:",
				Default: "GOLD",
			},
		},
	}
	if err := survey.Ask(warehouseQs, &cfg.Warehouse); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Zone Configuration")
	fmt.Println("------------------")

	zoneQs := []*survey.Question{
		{
			Name: "bronze",
			Prompt: &survey.Input{
				Message: "Bronze zone path (landed batches):",
			},
			Validate: survey.Required,
		},
		{
			Name: "silver",
			Prompt: &survey.Input{
				Message: "Silver zone path (conformed records):",
			},
		},
		{
			Name: "gold",
			Prompt: &survey.Input{
				Message: "Gold zone path (warehouse exports):",
			},
		},
	}
	if err := survey.Ask(zoneQs, &cfg.Zones); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	var schemaPath string
	survey.AskOne(&survey.Input{
		Message: "Table definitions directory (YAML files):",
	}, &schemaPath)
	cfg.Schema.Path = schemaPath

	var useKeyring bool
	survey.AskOne(&survey.Confirm{
		Message: "Store the warehouse password in the system keyring?",
		Default: true,
	}, &useKeyring)

	if useKeyring {
		err := security.StoreWarehousePassword(cfg.Warehouse.Account, cfg.Warehouse.Username, cfg.Warehouse.Password)
		if err != nil {
			ui.ShowWarning(fmt.Sprintf("keyring unavailable, falling back to encrypted config: %v", err))
			useKeyring = false
		} else {
			cfg.Warehouse.Password = ""
			cfg.Warehouse.UseKeyring = true
		}
	}
	if !useKeyring {
		if err := config.EncryptConfigPasswords(cfg); err != nil {
			ui.ShowError(err)
			os.Exit(1)
		}
	}

	if err := config.Save(cfg); err != nil {
		ui.ShowError(err)
		os.Exit(1)
	}

	ui.ShowSuccess(fmt.Sprintf("configuration written to %s", config.GetConfigFile()))
}
