// Command referral-pos drives a POS terminal session from the command line.
// It loads an order from a JSON file, then generates a referral code for its
// customer or redeems a code against it and prints the resulting payload.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/client"
	"github.com/xenking/pos-referral/internal/domain/order"
	"github.com/xenking/pos-referral/internal/domain/referral"
	"github.com/xenking/pos-referral/internal/terminal"
)

func main() {
	var (
		authorityURL string
		apiKey       string
		contextID    string
		orderFile    string
		code         string
		replace      bool
		receipt      bool
		timeout      time.Duration
	)

	flag.StringVar(&authorityURL, "authority", "http://localhost:8080", "referral authority base URL")
	flag.StringVar(&apiKey, "api-key", os.Getenv("REFERRAL_API_KEY"), "API key (or REFERRAL_API_KEY env)")
	flag.StringVar(&contextID, "context", "", "POS session context id")
	flag.StringVar(&orderFile, "order", "order.json", "path to order JSON file")
	flag.StringVar(&code, "redeem", "", "referral code to redeem; generates a code when empty")
	flag.BoolVar(&replace, "replace", false, "replace an earlier redemption instead of rejecting")
	flag.BoolVar(&receipt, "receipt", false, "finalize the order and print the receipt")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "authority request timeout")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := runConfig{
		client: client.Config{
			BaseURL: authorityURL,
			APIKey:  apiKey,
			Timeout: timeout,
			Logger:  lg,
		},
		contextID: contextID,
		orderFile: orderFile,
		code:      code,
		receipt:   receipt,
	}
	if replace {
		cfg.policy = referral.PolicyReplace
	}

	if err := run(ctx, lg, cfg); err != nil {
		if msg := referral.UserMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		lg.Error("Referral operation failed", zap.Error(err))
		os.Exit(1)
	}
}

type runConfig struct {
	client    client.Config
	contextID string
	orderFile string
	code      string
	policy    referral.Policy
	receipt   bool
}

func run(ctx context.Context, lg *zap.Logger, cfg runConfig) error {
	cli, err := client.New(cfg.client)
	if err != nil {
		return errors.Wrap(err, "create client")
	}

	notifier := referral.NotifierFunc(func(_ context.Context, message string, severity referral.Severity) {
		fmt.Printf("[%s] %s\n", severity, message)
	})

	s, err := terminal.New(terminal.Config{
		ContextID: cfg.contextID,
		Policy:    cfg.policy,
		Telemetry: referral.Telemetry{Logger: lg},
	}, cli, cli, notifier)
	if err != nil {
		return errors.Wrap(err, "create session")
	}

	data, err := os.ReadFile(cfg.orderFile)
	if err != nil {
		return errors.Wrap(err, "read order file")
	}
	o, err := s.NewOrder()
	if err != nil {
		return errors.Wrap(err, "open order")
	}
	if err := loadOrder(o, data); err != nil {
		return errors.Wrap(err, "load order")
	}

	if cfg.code == "" {
		if _, err := s.Generate(ctx); err != nil {
			return err
		}
	} else {
		if _, err := s.Redeem(ctx, cfg.code); err != nil {
			return err
		}
	}

	var out []byte
	if cfg.receipt {
		out, err = s.Finalize()
	} else {
		out, err = s.Export(order.KindOrder)
	}
	if err != nil {
		return errors.Wrap(err, "export order")
	}
	fmt.Println(string(out))
	return nil
}

// loadOrder fills o from a document of the form
//
//	{"customer": {"id": "", "name": "", "phone": "", "mobile": ""},
//	 "lines": [{"product_id": "", "name": "", "unit_price": "4.50",
//	            "quantity": "2", "discount": "0", "tax_rate": "10",
//	            "is_program_reward": false}]}
func loadOrder(o *order.Order, data []byte) error {
	var (
		customer *order.Customer
		lines    []order.LineItem
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer":
			if d.Next() == jx.Null {
				return d.Null()
			}
			customer = &order.Customer{}
			return decodeCustomer(d, customer)
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				lines = append(lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return errors.Wrap(err, "decode order")
	}

	for i, l := range lines {
		if err := o.AddLine(l); err != nil {
			return errors.Wrapf(err, "line %d", i+1)
		}
	}
	if customer != nil {
		if err := o.SetCustomer(customer); err != nil {
			return errors.Wrap(err, "set customer")
		}
	}
	return nil
}

func decodeCustomer(d *jx.Decoder, c *order.Customer) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var (
			v   string
			err error
		)
		switch key {
		case "id", "name", "phone", "mobile":
			v, err = d.Str()
		default:
			return d.Skip()
		}
		if err != nil {
			return err
		}
		switch key {
		case "id":
			c.ID = v
		case "name":
			c.Name = v
		case "phone":
			c.Phone = v
		case "mobile":
			c.Mobile = v
		}
		return nil
	})
}

func decodeLine(d *jx.Decoder) (order.LineItem, error) {
	l := order.LineItem{Quantity: decimal.NewFromInt(1)}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			l.ProductID, err = d.Str()
		case "name":
			l.Name, err = d.Str()
		case "note":
			l.Note, err = d.Str()
		case "unit_price":
			l.UnitPrice, err = decodeDecimal(d)
		case "quantity":
			l.Quantity, err = decodeDecimal(d)
		case "discount":
			l.Discount, err = decodeDecimal(d)
		case "tax_rate":
			l.TaxRate, err = decodeDecimal(d)
		case "is_program_reward":
			l.IsProgramReward, err = d.Bool()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return l, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
}
