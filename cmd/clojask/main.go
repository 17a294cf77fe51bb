package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c-sungho/clojask/dataframe"
	"github.com/c-sungho/clojask/exec"
)

// Job is one evaluation described by a YAML file: an input table, the
// declarative mutations the file format can express, and either a sort
// or a compute (optionally against a second table as a join).
type Job struct {
	Input struct {
		Path    string            `yaml:"path"`
		Options dataframe.Options `yaml:"options"`
	} `yaml:"input"`

	Types   map[string]string `yaml:"types"`
	Delete  []string          `yaml:"delete"`
	Rename  []string          `yaml:"rename"`
	Reorder []string          `yaml:"reorder"`

	GroupBy    []string `yaml:"group_by"`
	Aggregates []struct {
		Fn      string   `yaml:"fn"`
		Columns []string `yaml:"columns"`
		Outputs []string `yaml:"outputs"`
	} `yaml:"aggregates"`

	Sort []string `yaml:"sort"`

	Join *struct {
		Kind  string `yaml:"kind"`
		Right struct {
			Path    string            `yaml:"path"`
			Options dataframe.Options `yaml:"options"`
		} `yaml:"right"`
		Options dataframe.JoinOptions `yaml:"options"`
	} `yaml:"join"`

	Output  string                   `yaml:"output"`
	Compute dataframe.ComputeOptions `yaml:"compute"`
}

func main() {
	var (
		jobFile = flag.String("job", "", "Path to the YAML job file")
		preview = flag.Bool("preview", false, "Print a sample of the result before computing")
	)
	flag.Parse()

	if *jobFile == "" {
		fmt.Println("Usage: clojask -job <job.yaml>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	data, err := os.ReadFile(*jobFile)
	if err != nil {
		log.Fatalf("Failed to read job file: %v", err)
	}
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		log.Fatalf("Failed to parse job file: %v", err)
	}
	if job.Input.Path == "" || job.Output == "" {
		log.Fatal("Job file must name an input path and an output path")
	}

	report, err := run(&job, *preview)
	if err != nil {
		log.Fatalf("Job failed: %v", err)
	}
	fmt.Printf("Read %d rows, wrote %d rows\n", report.Read, report.Written)
	if report.Failed() {
		fmt.Printf("%d rows failed:\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Printf("  row %d: %s\n", f.Seq, f.Err)
		}
		os.Exit(1)
	}
}

func run(job *Job, preview bool) (*exec.Report, error) {
	d, err := dataframe.NewDataFrame(job.Input.Path, job.Input.Options)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	if len(job.Sort) > 0 {
		if err := d.Sort(job.Sort, job.Output, job.Compute); err != nil {
			return nil, err
		}
		return &exec.Report{}, nil
	}

	for col, tag := range job.Types {
		if err := d.SetType(col, tag); err != nil {
			return nil, err
		}
	}
	if len(job.Delete) > 0 {
		if err := d.Delete(job.Delete...); err != nil {
			return nil, err
		}
	}
	if len(job.Rename) > 0 {
		if err := d.Rename(job.Rename); err != nil {
			return nil, err
		}
	}
	if len(job.Reorder) > 0 {
		if err := d.Reorder(job.Reorder); err != nil {
			return nil, err
		}
	}
	for _, key := range job.GroupBy {
		// A key of the form fn(col) groups by a registered key function
		if open := strings.IndexByte(key, '('); open > 0 && strings.HasSuffix(key, ")") {
			if err := d.GroupByKey(key[:open], key[open+1:len(key)-1]); err != nil {
				return nil, err
			}
			continue
		}
		if err := d.GroupBy(key); err != nil {
			return nil, err
		}
	}
	for _, agg := range job.Aggregates {
		if err := d.Aggregate(agg.Fn, agg.Columns, agg.Outputs); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	if job.Join != nil {
		other, err := dataframe.NewDataFrame(job.Join.Right.Path, job.Join.Right.Options)
		if err != nil {
			return nil, err
		}
		defer other.Close()
		switch job.Join.Kind {
		case "inner":
			return d.InnerJoin(ctx, other, job.Join.Options, job.Output, job.Compute)
		case "left":
			return d.LeftJoin(ctx, other, job.Join.Options, job.Output, job.Compute)
		case "right":
			return d.RightJoin(ctx, other, job.Join.Options, job.Output, job.Compute)
		case "asof-forward":
			return d.AsofForwardJoin(ctx, other, job.Join.Options, job.Output, job.Compute)
		case "asof-backward":
			return d.AsofBackwardJoin(ctx, other, job.Join.Options, job.Output, job.Compute)
		default:
			return nil, fmt.Errorf("unknown join kind %q", job.Join.Kind)
		}
	}

	if preview {
		rows, names, err := d.Sample(exec.DefaultSampleRows)
		if err != nil {
			return nil, err
		}
		exec.Render(os.Stdout, names, rows)
	}

	return d.Compute(ctx, job.Output, job.Compute)
}
