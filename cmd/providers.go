package cmd

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/ops-messaging/internal/app"
	"github.com/jmehdipour/ops-messaging/internal/provider"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured providers",
}

var providersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every enabled provider and the routing config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var errs []error
		for _, pc := range cfg.EnabledProviders() {
			p, err := provider.New(pc)
			if err == nil {
				err = p.ValidateConfig()
			}
			if err != nil {
				fmt.Fprintf(out, "FAIL %-12s %v\n", pc.Name, err)
				errs = append(errs, err)
				continue
			}
			caps := p.Capabilities()
			fmt.Fprintf(out, "ok   %-12s interactive=%t templates=%t\n", pc.Name, caps.Interactive, caps.Template)
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}

		reg, err := app.Providers(cfg)
		if err != nil {
			return err
		}
		if err := cfg.DispatcherRouting().Validate(reg); err != nil {
			return err
		}
		fmt.Fprintln(out, "routing ok")
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersValidateCmd)
}
