package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Manage memory banks",
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all banks",
	RunE:  runBankList,
}

var bankShowCmd = &cobra.Command{
	Use:   "show <bank-id>",
	Short: "Show a bank's profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runBankShow,
}

var bankRebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index <bank-id>",
	Short: "Rebuild a bank's vector index, promoting to HNSW or demoting to exact scan as its size warrants",
	Args:  cobra.ExactArgs(1),
	RunE:  runBankRebuildIndex,
}

func init() {
	bankCmd.AddCommand(bankListCmd, bankShowCmd, bankRebuildIndexCmd)
}

func runBankList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	built, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer built.Close()

	banks, err := built.Engine.ListBanks(ctx)
	if err != nil {
		return fmt.Errorf("list banks: %w", err)
	}
	for _, b := range banks {
		fmt.Printf("%s\t%s\n", b.ID, b.Name)
	}
	return nil
}

func runBankShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	built, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer built.Close()

	bank, err := built.Engine.GetBankProfile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get bank profile: %w", err)
	}
	fmt.Printf("id=%s name=%s background=%q\n", bank.ID, bank.Name, bank.Background)
	fmt.Printf("personality: openness=%.2f conscientiousness=%.2f extraversion=%.2f agreeableness=%.2f neuroticism=%.2f\n",
		bank.Personality.Openness, bank.Personality.Conscientiousness, bank.Personality.Extraversion,
		bank.Personality.Agreeableness, bank.Personality.Neuroticism)
	return nil
}

func runBankRebuildIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	built, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer built.Close()

	if err := built.Engine.RebuildIndex(ctx, args[0]); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	fmt.Printf("rebuilt vector index for bank %s\n", args[0])
	return nil
}
