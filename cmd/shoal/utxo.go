package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/shoal-wallet/shoal/internal/core/application"
	"github.com/shoal-wallet/shoal/internal/core/domain"
)

var (
	blockHeight uint64
	blockHash   string
	blockTime   int64
	spentByTxid string

	utxoAddCmd = &cobra.Command{
		Use:   "add <txid> <vout> <value> [script-hex]",
		Short: "add new utxos to the store",
		Long: "this command lets you feed the store with a new utxo, identified " +
			"by its outpoint and carrying its value in satoshis",
		Args: cobra.RangeArgs(3, 4),
		RunE: utxoAdd,
	}
	utxoListCmd = &cobra.Command{
		Use:   "list",
		Short: "list owned utxos",
		Long: "this command returns the list of all owned utxos, split between " +
			"spendable and locked ones",
		RunE: utxoList,
	}
	utxoBalanceCmd = &cobra.Command{
		Use:   "balance",
		Short: "get wallet balance",
		Long: "this command returns info about the cumulative balance of the " +
			"owned utxos (confirmed, unconfirmed and locked)",
		RunE: utxoBalance,
	}
	utxoSelectCmd = &cobra.Command{
		Use:   "select <amount>",
		Short: "select utxos covering a target amount",
		Long: "this command runs the coin selection over the spendable utxos " +
			"to cover the given target amount in satoshis. The selected utxos " +
			"are locked for a while to prevent double spending them",
		Args: cobra.ExactArgs(1),
		RunE: utxoSelect,
	}
	utxoConfirmCmd = &cobra.Command{
		Use:   "confirm <txid:vout>...",
		Short: "mark utxos as confirmed",
		Long: "this command lets you mark one or more utxos as confirmed by " +
			"the block they were included into",
		Args: cobra.MinimumNArgs(1),
		RunE: utxoConfirm,
	}
	utxoSpendCmd = &cobra.Command{
		Use:   "spend <txid:vout>...",
		Short: "mark utxos as spent",
		Long: "this command lets you mark one or more utxos as spent by the " +
			"given transaction",
		Args: cobra.MinimumNArgs(1),
		RunE: utxoSpend,
	}
	utxoUnlockCmd = &cobra.Command{
		Use:   "unlock <txid:vout>...",
		Short: "unlock previously locked utxos",
		Long: "this command lets you manually unlock one or more utxos locked " +
			"by a previous coin selection, making them spendable again",
		Args: cobra.MinimumNArgs(1),
		RunE: utxoUnlock,
	}
	utxoCmd = &cobra.Command{
		Use:   "utxo",
		Short: "interact with the shoal utxo store",
		Long: "this command lets you add utxos to the local store, update " +
			"their status, and get info like balance or the coins selected to " +
			"cover a target amount",
	}
)

func init() {
	utxoConfirmCmd.Flags().Uint64Var(
		&blockHeight, "block-height", 0, "height of the block including the tx",
	)
	utxoConfirmCmd.Flags().StringVar(
		&blockHash, "block-hash", "", "hash of the block including the tx",
	)
	utxoConfirmCmd.Flags().Int64Var(
		&blockTime, "block-time", 0, "unix timestamp of the block including the tx",
	)
	utxoConfirmCmd.MarkFlagRequired("block-height")

	utxoSpendCmd.Flags().StringVar(
		&spentByTxid, "spent-by", "", "txid of the spending transaction",
	)
	utxoSpendCmd.Flags().Uint64Var(
		&blockHeight, "block-height", 0, "height of the block including the spending tx",
	)
	utxoSpendCmd.Flags().StringVar(
		&blockHash, "block-hash", "", "hash of the block including the spending tx",
	)
	utxoSpendCmd.MarkFlagRequired("spent-by")

	utxoCmd.AddCommand(
		utxoAddCmd, utxoListCmd, utxoBalanceCmd, utxoSelectCmd, utxoConfirmCmd,
		utxoSpendCmd, utxoUnlockCmd,
	)
}

func utxoAdd(cmd *cobra.Command, args []string) error {
	key, err := parseUtxoKey(args[0], args[1])
	if err != nil {
		printErr(err)
		return nil
	}
	value, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		printErr(fmt.Errorf("invalid value: %s", err))
		return nil
	}
	var script []byte
	if len(args) > 3 {
		script, err = hex.DecodeString(args[3])
		if err != nil {
			printErr(fmt.Errorf("invalid script: %s", err))
			return nil
		}
	}

	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := svc.AddUtxos(context.Background(), []*domain.Utxo{
		{
			UtxoKey: key,
			Value:   value,
			Script:  script,
		},
	})
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Printf("added %d utxo(s)\n", count)
	return nil
}

func utxoList(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	utxoInfo, err := svc.GetUtxos(context.Background())
	if err != nil {
		printErr(err)
		return nil
	}

	jsonReply, err := jsonResponse(utxoInfo)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(jsonReply)
	return nil
}

func utxoBalance(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	balance, err := svc.GetBalance(context.Background())
	if err != nil {
		printErr(err)
		return nil
	}

	jsonReply, err := jsonResponse(map[string]string{
		"confirmed":   btcAmount(balance.Confirmed),
		"unconfirmed": btcAmount(balance.Unconfirmed),
		"locked":      btcAmount(balance.Locked),
		"total":       btcAmount((*domain.Balance)(balance).Total()),
	})
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(jsonReply)
	return nil
}

func utxoSelect(cmd *cobra.Command, args []string) error {
	targetAmount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		printErr(fmt.Errorf("invalid amount: %s", err))
		return nil
	}

	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	utxos, total, change, expirationDate, err := svc.SelectUtxos(
		context.Background(), targetAmount,
		application.CoinSelectionStrategyLargestFirst,
	)
	if err != nil {
		printErr(err)
		return nil
	}

	selected := make([]map[string]interface{}, 0, len(utxos))
	for _, u := range utxos {
		selected = append(selected, map[string]interface{}{
			"outpoint": u.Key().String(),
			"value":    u.Value,
		})
	}
	jsonReply, err := jsonResponse(map[string]interface{}{
		"utxos":           selected,
		"total_amount":    btcAmount(total),
		"change_amount":   btcAmount(change),
		"expiration_date": time.Unix(expirationDate, 0).Format(time.RFC3339),
	})
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(jsonReply)
	return nil
}

func utxoConfirm(cmd *cobra.Command, args []string) error {
	keys, err := parseOutpoints(args)
	if err != nil {
		printErr(err)
		return nil
	}

	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := svc.ConfirmUtxos(context.Background(), keys, domain.UtxoStatus{
		BlockHeight: blockHeight,
		BlockHash:   blockHash,
		BlockTime:   blockTime,
	})
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Printf("confirmed %d utxo(s)\n", count)
	return nil
}

func utxoSpend(cmd *cobra.Command, args []string) error {
	keys, err := parseOutpoints(args)
	if err != nil {
		printErr(err)
		return nil
	}
	if _, err := parseUtxoKey(spentByTxid, "0"); err != nil {
		printErr(fmt.Errorf("invalid spent-by txid"))
		return nil
	}

	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := svc.SpendUtxos(context.Background(), keys, domain.UtxoStatus{
		Txid:        spentByTxid,
		BlockHeight: blockHeight,
		BlockHash:   blockHash,
	})
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Printf("spent %d utxo(s)\n", count)
	return nil
}

func utxoUnlock(cmd *cobra.Command, args []string) error {
	keys, err := parseOutpoints(args)
	if err != nil {
		printErr(err)
		return nil
	}

	svc, cleanup, err := getUtxoService()
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := svc.UnlockUtxos(context.Background(), keys)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Printf("unlocked %d utxo(s)\n", count)
	return nil
}

func parseOutpoints(args []string) ([]domain.UtxoKey, error) {
	keys := make([]domain.UtxoKey, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid outpoint %s, must be in the form txid:vout", arg)
		}
		key, err := parseUtxoKey(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
