package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"mortgage-rate-alerts/internal/app"
)

var (
	simulateObserved     float64
	simulateTarget       float64
	simulateClientName   string
	simulateClientEmail  string
	simulateOwnerName    string
	simulateOwnerEmail   string
	simulateSendToClient bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次目标利率命中并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateObserved <= 0 || simulateTarget <= 0 {
			return errors.New("--observed 与 --target 必须大于 0")
		}
		if simulateOwnerEmail == "" {
			return errors.New("--owner-email 必须提供")
		}

		opts := app.SimulateOptions{
			ObservedRate: decimal.NewFromFloat(simulateObserved),
			TargetRate:   decimal.NewFromFloat(simulateTarget),
			ClientName:   simulateClientName,
			ClientEmail:  simulateClientEmail,
			OwnerName:    simulateOwnerName,
			OwnerEmail:   simulateOwnerEmail,
			SendToClient: simulateSendToClient,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateObserved, "observed", 0, "模拟观测利率 (%)")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 0, "客户目标利率 (%)")
	simulateCmd.Flags().StringVar(&simulateClientName, "client-name", "Test Client", "Client display name")
	simulateCmd.Flags().StringVar(&simulateClientEmail, "client-email", "", "Client contact address")
	simulateCmd.Flags().StringVar(&simulateOwnerName, "owner-name", "", "Owner display name")
	simulateCmd.Flags().StringVar(&simulateOwnerEmail, "owner-email", "", "Owner contact address")
	simulateCmd.Flags().BoolVar(&simulateSendToClient, "send-to-client", false, "Also send the client-facing message")
}
