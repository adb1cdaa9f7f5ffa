package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"pipscreen/pkg/platform/audit/consumer"
	"pipscreen/pkg/platform/audit/relay"
)

var (
	auditOrg       string
	auditAction    string
	auditGroup     string
	auditFromStart bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect relayed audit events",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream audit events from Kafka as JSON lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is not set")
		}

		c, err := consumer.NewKafkaConsumer(consumer.Config{
			Brokers:   cfg.Kafka.Brokers,
			Topics:    relay.Topics(cfg.Kafka.TopicPrefix),
			Group:     auditGroup,
			FromStart: auditFromStart,
		}, log)
		if err != nil {
			return err
		}
		defer c.Close()

		var opts []consumer.PrinterOption
		if auditOrg != "" {
			opts = append(opts, consumer.ForOrganisation(auditOrg))
		}
		if auditAction != "" {
			opts = append(opts, consumer.ForAction(auditAction))
		}
		return c.Run(cmd.Context(), consumer.NewPrinter(cmd.OutOrStdout(), log, opts...))
	},
}

func init() {
	auditTailCmd.Flags().StringVar(&auditOrg, "org", "", "only events of this organisation id")
	auditTailCmd.Flags().StringVar(&auditAction, "action", "", "only this event type, e.g. bulk_screening_performed")
	auditTailCmd.Flags().StringVar(&auditGroup, "group", "", "consumer group; offsets are committed when set")
	auditTailCmd.Flags().BoolVar(&auditFromStart, "from-start", false, "read from the oldest retained event")
	auditCmd.AddCommand(auditTailCmd)
}
