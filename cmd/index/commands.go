package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/geoKV/cmd/util"
	"github.com/ValentinKolb/geoKV/lib/codec"
	"github.com/ValentinKolb/geoKV/lib/geohash"
	"github.com/ValentinKolb/geoKV/lib/index"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initializes an empty backend with one bucket per cell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			compressor, err := codec.ByName(conf.Compressor, conf.CompressionLevel)
			if err != nil {
				return err
			}
			created, err := index.Initialize(cmd.Context(), backend, conf.Precision, compressor, sync)
			if err != nil {
				return err
			}
			n, err := created.Len()
			if err != nil {
				return err
			}
			fmt.Printf("initialized %s with %d cells (%s)\n", created, n, created.Properties())
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:     "info",
		Short:   "Prints the index properties and backend information",
		Args:    cobra.NoArgs,
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := idx.Len()
			if err != nil {
				return err
			}
			info := backend.GetInfo()

			features := make([]string, len(info.SupportedFeatures))
			for i, f := range info.SupportedFeatures {
				features[i] = f.String()
			}

			fmt.Println(conf.String())
			fmt.Printf("index:    %s\n", idx.Properties())
			fmt.Printf("buckets:  %d\n", n)
			fmt.Printf("backend:  %s (%d bytes)\n", info.DbType, info.SizeBytes)
			fmt.Printf("features: %s\n", strings.Join(features, ", "))
			if info.Metadata != nil {
				fmt.Printf("metadata: %s\n", util.FormatValue(info.Metadata))
			}
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:     "keys",
		Short:   "Lists the cell codes of all buckets",
		Args:    cobra.NoArgs,
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := idx.Keys()
			if err != nil {
				return err
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:     "get [cell]",
		Short:   "Reads the bucket of a cell",
		Args:    cobra.ExactArgs(1),
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, err := idx.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("cell=%s, values=%s\n", args[0], util.FormatValue(bucket))
			return nil
		},
	}
	locateCmd = &cobra.Command{
		Use:     "locate [lng] [lat]",
		Short:   "Prints the cell containing a point and its bucket",
		Args:    cobra.ExactArgs(2),
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			lng, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("lng must be a number: %w", err)
			}
			lat, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("lat must be a number: %w", err)
			}
			cell, err := geohash.Encode(geohash.Point{Lng: lng, Lat: lat}, idx.Precision())
			if err != nil {
				return err
			}
			bucket, err := idx.Get(cell)
			if err != nil {
				return err
			}
			fmt.Printf("cell=%s, values=%s\n", cell, util.FormatValue(bucket))
			return nil
		},
	}
	appendCmd = &cobra.Command{
		Use:     "append [cell] [value...]",
		Short:   "Appends values (JSON literals) to the bucket of a cell",
		Args:    cobra.MinimumNArgs(2),
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]index.Entry, 0, len(args)-1)
			for _, arg := range args[1:] {
				entries = append(entries, index.Entry{Key: args[0], Value: util.ParseValue(arg)})
			}
			if err := idx.Append(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Println("append successfully")
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:     "update [cell] [value...]",
		Short:   "Replaces the bucket of a cell, without values the bucket is emptied",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				values = append(values, util.ParseValue(arg))
			}
			if err := idx.Update(cmd.Context(), []index.Entry{{Key: args[0], Value: values}}); err != nil {
				return err
			}
			fmt.Println("update successfully")
			return nil
		},
	}
	boxCmd = &cobra.Command{
		Use:     "box [minLng,minLat,maxLng,maxLat]",
		Short:   "Reads the buckets of all cells intersecting a bounding box",
		Args:    cobra.ExactArgs(1),
		PreRunE: openIndex,
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := util.ParseBox(args[0])
			if err != nil {
				return err
			}
			buckets, err := idx.Box(box)
			if err != nil {
				return err
			}

			if viper.GetBool("flat") {
				fmt.Println(util.FormatValue(index.Flatten(buckets)))
				return nil
			}

			cells, err := geohash.CellsForBox(box, idx.Precision())
			if err != nil {
				return err
			}
			printBuckets(cells, buckets, viper.GetBool("all"))
			return nil
		},
	}
)

func init() {
	key := "precision"
	initCmd.Flags().Int(key, 3, util.WrapString("Length of the cell codes"))
	key = "compressor"
	initCmd.Flags().String(key, "none", util.WrapString(fmt.Sprintf("Compressor for the buckets (none, %s)", strings.Join(codec.Registered(), ", "))))
	key = "compression-level"
	initCmd.Flags().Int(key, 0, util.WrapString("Compression level (0 = default of the compressor)"))

	key = "flat"
	boxCmd.Flags().Bool(key, false, util.WrapString("Print all values as one list instead of one line per cell"))
	key = "all"
	boxCmd.Flags().Bool(key, false, util.WrapString("Also print cells with an empty bucket"))
}

func printBuckets(cells []string, buckets []storage.Bucket, all bool) {
	for i, bucket := range buckets {
		if len(bucket) == 0 && !all {
			continue
		}
		fmt.Printf("%s\t%s\n", cells[i], util.FormatValue(bucket))
	}
}
