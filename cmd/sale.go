package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/offline"
	"github.com/marcus/posync/internal/output"
	"github.com/spf13/cobra"
)

// parseMoney parses "12", "12.5" or "12.50" into cents
func parseMoney(s string) (int64, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		if cents, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	return units*100 + cents, nil
}

// lineSpec is a parsed --line flag. price is -1 when the catalog price
// should be used.
type lineSpec struct {
	productID string
	quantity  int64
	price     int64
}

// parseLine parses "product:qty" or "product:qty:price"
func parseLine(s string) (lineSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return lineSpec{}, fmt.Errorf("invalid line %q (want product:qty[:price])", s)
	}
	qty, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || qty <= 0 {
		return lineSpec{}, fmt.Errorf("invalid quantity in line %q", s)
	}
	spec := lineSpec{productID: parts[0], quantity: qty, price: -1}
	if len(parts) == 3 {
		if spec.price, err = parseMoney(parts[2]); err != nil {
			return lineSpec{}, err
		}
	}
	return spec, nil
}

// parsePayment parses "method:amount"
func parsePayment(s string) (models.Payment, error) {
	method, amount, ok := strings.Cut(s, ":")
	if !ok {
		return models.Payment{}, fmt.Errorf("invalid payment %q (want method:amount)", s)
	}
	m := models.PaymentMethod(strings.ToLower(method))
	switch m {
	case models.PaymentCash, models.PaymentCard, models.PaymentTransfer, models.PaymentCredit:
	default:
		return models.Payment{}, fmt.Errorf("unknown payment method %q", method)
	}
	cents, err := parseMoney(amount)
	if err != nil {
		return models.Payment{}, err
	}
	return models.Payment{Method: m, AmountCents: cents}, nil
}

// buildSale prices lines without an explicit price from the cached catalog
func buildSale(ctx context.Context, e *offline.Engine, lines, payments []string, clientID, note string, now time.Time) (models.Sale, error) {
	sale := models.Sale{ClientID: clientID, Note: note, SoldAt: now}

	var prices map[string]int64
	for _, raw := range lines {
		spec, err := parseLine(raw)
		if err != nil {
			return models.Sale{}, err
		}
		if spec.price < 0 {
			if prices == nil {
				products, err := e.Cache().Products(ctx)
				if err != nil {
					return models.Sale{}, err
				}
				prices = make(map[string]int64, len(products))
				for _, p := range products {
					prices[p.ID] = p.PriceCents
				}
			}
			price, ok := prices[spec.productID]
			if !ok {
				return models.Sale{}, fmt.Errorf("product %s is not in the cached catalog; give a price or run 'posync refresh products'", spec.productID)
			}
			spec.price = price
		}
		sale.Lines = append(sale.Lines, models.SaleLine{
			ProductID:      spec.productID,
			Quantity:       spec.quantity,
			UnitPriceCents: spec.price,
		})
	}

	for _, raw := range payments {
		p, err := parsePayment(raw)
		if err != nil {
			return models.Sale{}, err
		}
		sale.Payments = append(sale.Payments, p)
	}
	return sale, nil
}

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record a sale",
	Long: `Records a sale. It is sent at once when the backend is reachable and
saved to the local queue otherwise. Lines without a price use the cached
catalog price.`,
	Example: `  posync sale --line p-coffee:2 --line p-mug:1:9.90 --pay cash:20
  posync sale --client c-acme --line p-oil:3 --offline`,
	GroupID: "write",
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetStringArray("line")
		payments, _ := cmd.Flags().GetStringArray("pay")
		clientID, _ := cmd.Flags().GetString("client")
		note, _ := cmd.Flags().GetString("note")

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		sale, err := buildSale(ctx, e, lines, payments, clientID, note, time.Now().UTC())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		res, err := e.RecordSale(ctx, sale)
		if err != nil {
			output.Error("sale not recorded: %v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(res)
		}
		switch res.Status {
		case offline.StatusSynced:
			output.Success("Sale #%d recorded, total %s", res.Receipt.Number, output.FormatMoney(res.Receipt.TotalCents))
		case offline.StatusSavedOffline:
			output.Warning("Sale saved offline as %s, total %s; it will be sent when the backend is reachable",
				output.ShortToken(res.Token), output.FormatMoney(sale.TotalCents()))
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <session> <product> <quantity>",
	Short: "Record an inventory count line",
	Long: `Records a counted quantity in an open inventory session. Lines of the
same session reach the backend in the order they were counted.`,
	GroupID: "write",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid quantity %q", args[2])
			output.Error("%v", err)
			return err
		}
		by, _ := cmd.Flags().GetString("by")

		e, err := openEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer e.Close()

		line := models.InventoryCountLine{
			ProductID: args[1],
			Quantity:  qty,
			CountedAt: time.Now().UTC(),
			CountedBy: by,
		}
		res, err := e.RecordInventoryLine(cmd.Context(), args[0], line)
		if err != nil {
			output.Error("count not recorded: %v", err)
			return err
		}

		if jsonOutput {
			return output.JSON(res)
		}
		switch res.Status {
		case offline.StatusSynced:
			output.Success("Counted %s = %d in %s (line #%d)", line.ProductID, qty, args[0], res.Result.Sequence)
		case offline.StatusSavedOffline:
			output.Warning("Count saved offline as %s; it will be sent when the backend is reachable", output.ShortToken(res.Token))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saleCmd)
	rootCmd.AddCommand(countCmd)

	saleCmd.Flags().StringArray("line", nil, "Sale line as product:qty[:price] (repeatable)")
	saleCmd.Flags().StringArray("pay", nil, "Payment as method:amount, method is cash, card, transfer or credit (repeatable)")
	saleCmd.Flags().String("client", "", "Client id to bill")
	saleCmd.Flags().String("note", "", "Free-text note")
	_ = saleCmd.MarkFlagRequired("line")

	countCmd.Flags().String("by", "", "Who counted")
}
