package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rapidroutes/lane-engine/internal/engine"
	"github.com/rapidroutes/lane-engine/internal/export"
	"github.com/rapidroutes/lane-engine/internal/model"
)

// pairFlags are the lane and output flags of the pair command.
type pairFlags struct {
	originCity, originState string
	destCity, destState     string
	originZip, destZip      string
	equipment               string
	length                  int
	weight                  int
	weightMin, weightMax    int
	fullPartial             string
	pickup, pickupLatest    string
	comment, commodity      string
	rate                    string
	acceptPartial           bool
	citiesCSV               string
	out                     string
	jsonOut                 bool
}

var pf pairFlags

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair one lane and export load-board rows",
	Long:  "Selects diverse pickup and delivery markets around the lane, pairs them and writes verified posting rows as CSV or XLSX.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lane, err := laneFromFlags(pf)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "pair", pf.citiesCSV)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Run(ctx, engine.Request{Lane: lane, AcceptPartial: pf.acceptPartial})
		if err != nil {
			logFailure(res, err)
			return err
		}
		for _, w := range res.Warnings {
			zap.L().Warn("partial result", zap.String("warning", w))
		}

		if pf.jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(res), "write json")
		}
		if err := writeRows(cmd.OutOrStdout(), pf.out, res.Rows); err != nil {
			return err
		}

		zap.L().Info("pairing complete",
			zap.String("run_id", res.RunID),
			zap.Strings("pickup_markets", res.Pickup.Markets()),
			zap.Strings("delivery_markets", res.Delivery.Markets()),
			zap.Int("pairs", len(res.Pairs)),
			zap.Int("rows", len(res.Rows)),
			zap.String("out", pf.out),
		)
		return nil
	},
}

func init() {
	f := pairCmd.Flags()
	f.StringVar(&pf.originCity, "origin-city", "", "origin city (required)")
	f.StringVar(&pf.originState, "origin-state", "", "origin state code (required)")
	f.StringVar(&pf.originZip, "origin-zip", "", "origin postal code")
	f.StringVar(&pf.destCity, "dest-city", "", "destination city (required)")
	f.StringVar(&pf.destState, "dest-state", "", "destination state code (required)")
	f.StringVar(&pf.destZip, "dest-zip", "", "destination postal code")
	f.StringVar(&pf.equipment, "equipment", "V", "equipment code")
	f.IntVar(&pf.length, "length", export.DefaultLengthFt, "trailer length in feet")
	f.IntVar(&pf.weight, "weight", 0, "load weight in lbs")
	f.IntVar(&pf.weightMin, "weight-min", 0, "randomize weight per pair from this minimum")
	f.IntVar(&pf.weightMax, "weight-max", 0, "randomize weight per pair up to this maximum")
	f.StringVar(&pf.fullPartial, "full-partial", "full", "full or partial truckload")
	f.StringVar(&pf.pickup, "pickup", "", "earliest pickup date, YYYY-MM-DD (required)")
	f.StringVar(&pf.pickupLatest, "pickup-latest", "", "latest pickup date, YYYY-MM-DD")
	f.StringVar(&pf.comment, "comment", "", "posting comment")
	f.StringVar(&pf.commodity, "commodity", "", "commodity")
	f.StringVar(&pf.rate, "rate", "", "posted rate")
	f.BoolVar(&pf.acceptPartial, "accept-partial", false, "continue with fewer diverse markets than the target")
	f.StringVar(&pf.citiesCSV, "cities-csv", "", "load cities from this CSV instead of the configured store")
	f.StringVarP(&pf.out, "out", "o", "", "output file (.csv or .xlsx); stdout CSV when empty")
	f.BoolVar(&pf.jsonOut, "json", false, "print the full result as JSON instead of rows")
	for _, name := range []string{"origin-city", "origin-state", "dest-city", "dest-state", "pickup"} {
		_ = pairCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(pairCmd)
}

// laneFromFlags builds a lane. Dates accept YYYY-MM-DD or the export's
// MM/DD/YYYY layout.
func laneFromFlags(f pairFlags) (model.Lane, error) {
	lane := model.Lane{
		OriginCity:  strings.TrimSpace(f.originCity),
		OriginState: strings.ToUpper(strings.TrimSpace(f.originState)),
		OriginZip:   f.originZip,
		DestCity:    strings.TrimSpace(f.destCity),
		DestState:   strings.ToUpper(strings.TrimSpace(f.destState)),
		DestZip:     f.destZip,
		Equipment:   strings.ToUpper(strings.TrimSpace(f.equipment)),
		LengthFt:    f.length,
		Weight:      f.weight,
		Comment:     f.comment,
		Commodity:   f.commodity,
		Rate:        f.rate,
	}
	if f.weightMin > 0 || f.weightMax > 0 {
		lane.RandomizeWeight = true
		lane.WeightMin, lane.WeightMax = f.weightMin, f.weightMax
	}

	switch strings.ToLower(strings.TrimSpace(f.fullPartial)) {
	case "", "full":
		lane.FullPartial = model.LoadFull
	case "partial":
		lane.FullPartial = model.LoadPartial
	default:
		return lane, eris.Wrapf(model.ErrInvalidInput, "full-partial must be full or partial, got %q", f.fullPartial)
	}

	var err error
	if lane.PickupEarliest, err = parseDate(f.pickup); err != nil {
		return lane, eris.Wrap(err, "pickup")
	}
	if f.pickupLatest != "" {
		latest, err := parseDate(f.pickupLatest)
		if err != nil {
			return lane, eris.Wrap(err, "pickup-latest")
		}
		lane.PickupLatest = &latest
	}
	return lane, lane.Validate()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, export.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Wrapf(model.ErrInvalidInput, "unrecognized date %q", s)
}

// writeRows writes CSV to stdout when path is empty, otherwise CSV or XLSX
// by extension.
func writeRows(stdout io.Writer, path string, rows []model.Row) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return export.WriteCSV(stdout, rows)
		}
		return eris.Errorf("output %q needs a .csv or .xlsx extension", path)
	case ".xlsx":
		return export.WriteXLSX(path, rows)
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "create output")
		}
		if err := export.WriteCSV(f, rows); err != nil {
			_ = f.Close()
			return err
		}
		return eris.Wrap(f.Close(), "close output")
	default:
		return eris.Errorf("unsupported output extension %q", filepath.Ext(path))
	}
}

// logFailure reports how far a failed run got.
func logFailure(res *engine.Result, err error) {
	fields := []zap.Field{zap.Error(err)}
	var insufficient *model.InsufficientDiversityError
	if errors.As(err, &insufficient) {
		fields = append(fields,
			zap.String("side", string(insufficient.Side)),
			zap.Int("found", insufficient.Found),
			zap.Int("target", insufficient.Target),
			zap.Int("tiers_used", insufficient.TiersUsed),
		)
	}
	if res != nil {
		fields = append(fields,
			zap.Strings("pickup_markets", res.Pickup.Markets()),
			zap.Strings("delivery_markets", res.Delivery.Markets()),
		)
		var verr *model.VerificationFailureError
		if errors.As(err, &verr) {
			for _, ve := range verr.Errors {
				zap.L().Error("verification", zap.String("check", ve.Check), zap.Int("row", ve.Row), zap.String("message", ve.Message))
			}
		}
	}
	zap.L().Error("pairing failed", fields...)
}
