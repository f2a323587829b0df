// Command settlementd-cli is the operator's human-usable front end
// over the settlement core's RPC surface, in the teacher's
// lightchain-cli style: a cobra root command, one subcommand per
// operation, and a shared SDK client dialed once at startup.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/offramp-labs/settlement-core/pkg/ledger"
	"github.com/offramp-labs/settlement-core/pkg/orders"
	"github.com/offramp-labs/settlement-core/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	cliName = "settlementd-cli"
	banner  = "Off-chain settlement core operator CLI\n"
)

var (
	configPath string
	fillerID   string
)

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "Operator CLI for the off-chain settlement core",
	Long:  banner,
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Create, inspect, and list orders",
}

var createOrderCmd = &cobra.Command{
	Use:   "create [kind] [from] [to] [token-id] [amount] [banking-hash]",
	Short: "Create a new order",
	Long: `Create a new order of the given kind (bridge_in, bridge_out, transfer).

Example:
  settlementd-cli order create bridge_in 0xfrom... 0xto... 1 1000000000000000000 deadbeef...`,
	Args: cobra.ExactArgs(6),
	RunE: runCreateOrder,
}

var getOrderCmd = &cobra.Command{
	Use:   "get [order-id]",
	Short: "Fetch an order by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetOrder,
}

var listDiscoveryCmd = &cobra.Command{
	Use:   "list-discovery",
	Short: "List orders available for a filler to lock",
	RunE:  runListDiscovery,
}

var fillerCmd = &cobra.Command{
	Use:   "filler",
	Short: "Lock orders, submit payment proofs, and manage filler ledger state",
}

var lockCmd = &cobra.Command{
	Use:   "lock [order-id] [amount]",
	Short: "Lock an order for fulfillment",
	Args:  cobra.ExactArgs(2),
	RunE:  runLock,
}

var submitProofCmd = &cobra.Command{
	Use:   "submit-proof [order-id] [banking-hash]",
	Short: "Submit an off-chain payment confirmation for a locked order",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmitProof,
}

var balanceCmd = &cobra.Command{
	Use:   "balance [token-id]",
	Short: "Read the filler's ledger balance for a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

var walletsCmd = &cobra.Command{
	Use:   "set-wallets [address] [percentage] [address] [percentage] ...",
	Short: "Configure the filler's payout wallet split",
	RunE:  runSetWallets,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect and drive batch sealing",
}

var startBatchCmd = &cobra.Command{
	Use:   "start",
	Short: "Force-start the next batch",
	RunE:  runStartBatch,
}

var finalizeBatchCmd = &cobra.Command{
	Use:   "finalize [batch-id]",
	Short: "Finalize the named batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runFinalizeBatch,
}

var claimProofCmd = &cobra.Command{
	Use:   "claim-proof [batch-id] [on-chain-order-id]",
	Short: "Fetch a claim's inclusion proof within a sealed batch",
	Args:  cobra.ExactArgs(2),
	RunE:  runClaimProof,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "settlementd.yaml", "Path to the settlement core config file")
	fillerCmd.PersistentFlags().StringVar(&fillerID, "filler-id", "", "Filler identifier")
	fillerCmd.MarkPersistentFlagRequired("filler-id")

	orderCmd.AddCommand(createOrderCmd, getOrderCmd, listDiscoveryCmd)
	fillerCmd.AddCommand(lockCmd, submitProofCmd, balanceCmd, walletsCmd)
	batchCmd.AddCommand(startBatchCmd, finalizeBatchCmd, claimProofCmd)
	rootCmd.AddCommand(orderCmd, fillerCmd, batchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dial() (*sdk.Client, error) {
	return sdk.Dial(configPath)
}

func parseKind(s string) (orders.Kind, error) {
	switch s {
	case "bridge_in":
		return orders.KindBridgeIn, nil
	case "bridge_out":
		return orders.KindBridgeOut, nil
	case "transfer":
		return orders.KindTransfer, nil
	default:
		return 0, fmt.Errorf("unknown order kind: %s (want bridge_in, bridge_out, or transfer)", s)
	}
}

func parseBankingHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid banking hash: %w", err)
	}
	if len(b) != 32 {
		return h, fmt.Errorf("banking hash must be 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func runCreateOrder(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	if !common.IsHexAddress(args[1]) || !common.IsHexAddress(args[2]) {
		return fmt.Errorf("from/to must be hex addresses")
	}
	tokenID, ok := new(big.Int).SetString(args[3], 10)
	if !ok {
		return fmt.Errorf("invalid token id: %s", args[3])
	}
	amount, ok := new(big.Int).SetString(args[4], 10)
	if !ok {
		return fmt.Errorf("invalid amount: %s", args[4])
	}
	bankingHash, err := parseBankingHash(args[5])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	o, err := c.CreateOrder(context.Background(), kind, common.HexToAddress(args[1]), common.HexToAddress(args[2]), tokenID, amount, bankingHash)
	if err != nil {
		return err
	}
	fmt.Printf("created order %s (status=%s)\n", o.ID, o.Status)
	return nil
}

func runGetOrder(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	o, err := c.GetOrder(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("order %s kind=%v status=%s amount=%s token=%s\n", o.ID, o.Kind, o.Status, o.Amount, o.TokenID)
	return nil
}

func runListDiscovery(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	list, err := c.ListDiscovery(context.Background(), 50)
	if err != nil {
		return err
	}
	for _, o := range list {
		fmt.Printf("%s amount=%s token=%s\n", o.ID, o.Amount, o.TokenID)
	}
	fmt.Printf("%d order(s) in discovery\n", len(list))
	return nil
}

func runLock(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	amount, ok := new(big.Int).SetString(args[1], 10)
	if !ok {
		return fmt.Errorf("invalid amount: %s", args[1])
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	o, err := c.LockOrder(context.Background(), id, fillerID, amount)
	if err != nil {
		return err
	}
	fmt.Printf("locked order %s for filler %s\n", o.ID, fillerID)
	return nil
}

func runSubmitProof(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	bankingHash, err := parseBankingHash(args[1])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	o, err := c.SubmitPaymentProof(context.Background(), id, fillerID, bankingHash)
	if err != nil {
		return err
	}
	fmt.Printf("order %s marked paid, awaiting batch settlement\n", o.ID)
	return nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	tokenID, ok := new(big.Int).SetString(args[0], 10)
	if !ok {
		return fmt.Errorf("invalid token id: %s", args[0])
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	snap, err := c.GetFillerBalance(context.Background(), fillerID, tokenID)
	if err != nil {
		return err
	}
	fmt.Printf("filler=%s token=%s total=%s available=%s locked=%s completed_jobs=%d\n",
		fillerID, tokenID, snap.Total, snap.Available, snap.Locked, snap.CompletedJobs)
	return nil
}

func runSetWallets(cmd *cobra.Command, args []string) error {
	if len(args)%2 != 0 {
		return fmt.Errorf("expected pairs of address and percentage")
	}
	var wallets []ledger.PayoutWallet
	for i := 0; i < len(args); i += 2 {
		if !common.IsHexAddress(args[i]) {
			return fmt.Errorf("invalid address: %s", args[i])
		}
		var pct int
		if _, err := fmt.Sscanf(args[i+1], "%d", &pct); err != nil || pct < 0 || pct > 100 {
			return fmt.Errorf("invalid percentage: %s", args[i+1])
		}
		wallets = append(wallets, ledger.PayoutWallet{Address: common.HexToAddress(args[i]), Percentage: uint8(pct)})
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.PutFillerWallets(context.Background(), fillerID, wallets); err != nil {
		return err
	}
	fmt.Printf("set %d payout wallet(s) for filler %s\n", len(wallets), fillerID)
	return nil
}

func runStartBatch(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.StartBatch(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("started batch %d\n", id)
	return nil
}

func runFinalizeBatch(cmd *cobra.Command, args []string) error {
	var batchID uint32
	if _, err := fmt.Sscanf(args[0], "%d", &batchID); err != nil {
		return fmt.Errorf("invalid batch id: %s", args[0])
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.FinalizeBatch(context.Background(), batchID)
	if err != nil {
		return err
	}
	fmt.Printf("finalized batch %d: orders=%d new_state_root=%s new_orders_root=%s\n",
		batchID, result.OrdersCount, sdk.MerkleRootHex(result.NewStateRoot), sdk.MerkleRootHex(result.NewOrdersRoot))
	return nil
}

func runClaimProof(cmd *cobra.Command, args []string) error {
	var batchID uint32
	var onChainOrderID uint64
	if _, err := fmt.Sscanf(args[0], "%d", &batchID); err != nil {
		return fmt.Errorf("invalid batch id: %s", args[0])
	}
	if _, err := fmt.Sscanf(args[1], "%d", &onChainOrderID); err != nil {
		return fmt.Errorf("invalid on-chain order id: %s", args[1])
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.GetClaimProof(context.Background(), batchID, onChainOrderID)
	if err != nil {
		return err
	}
	fmt.Printf("claim proof for on-chain order %d in batch %d: %d path element(s)\n", onChainOrderID, batchID, len(result.Path))
	for i, p := range result.Path {
		fmt.Printf("  [%d] %s\n", i, sdk.MerkleRootHex(p))
	}
	return nil
}
