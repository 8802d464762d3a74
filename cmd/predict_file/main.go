package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"

	"studentperf/inference"
	"studentperf/ml"
)

var (
	name    = "predict_file"
	version = "1.0.0"
)

type args struct {
	Model  string `help:"model artifact to load" arg:"-m"`
	Input  string `help:"CSV file to score, - for stdin" arg:"-i,required"`
	Output string `help:"where to write the JSON result, stdout when empty" arg:"-o"`
	Fold   bool   `help:"accept feature headers in any case" arg:"--fold-case"`
	Pretty bool   `help:"indent the JSON output"`
}

func (args) Version() string {
	return version
}

func (args) Description() string {
	return fmt.Sprintf(`%s
scores a CSV of students offline with a saved model artifact`, name)
}

func main() {
	var args args
	args.Model = "models/student_model.json"
	arg.MustParse(&args)

	if err := run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args args) error {
	model, err := ml.LoadModel(args.Model)
	if err != nil {
		return err
	}
	svc, err := inference.NewService(model, inference.Options{
		Normalizer: ml.Normalizer{FoldFeatureCase: args.Fold},
	})
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if args.Input != "-" {
		f, err := os.Open(args.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	result, err := svc.PredictFile(context.Background(), data)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if args.Output != "" {
		f, err := os.Create(args.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	if args.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
