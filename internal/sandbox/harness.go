package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

const (
	containerWorkDir   = "/sandbox"
	containerInputDir  = "/data"
	containerOutputDir = "/output"
	scriptName         = "script.py"
	programName        = "program.py"
	resultName         = "result.csv"
)

// harnessSource loads the input into df, runs program.py in a namespace that
// exposes pl and df, writes the frame bound to result (result_df is accepted
// too) and prints one JSON summary as the final stdout line.
const harnessSource = `import json
import sys
import traceback

sys.setrecursionlimit(1000)

INPUT_PATH = {{ py .InputPath }}
OUTPUT_PATH = {{ py .OutputPath }}
PROGRAM_PATH = {{ py .ProgramPath }}


def emit(payload):
    sys.stderr.flush()
    sys.stdout.write("\n" + json.dumps(payload, default=str) + "\n")
    sys.stdout.flush()


def load(pl, path):
    lower = path.lower()
    if lower.endswith(".csv") or lower.endswith(".txt"):
        return pl.read_csv(path)
    if lower.endswith(".tsv") or lower.endswith(".tab"):
        return pl.read_csv(path, separator="\t")
    if lower.endswith(".parquet"):
        return pl.read_parquet(path)
    if lower.endswith(".xlsx") or lower.endswith(".xls"):
        return pl.read_excel(path)
    raise ValueError("unsupported input format: " + path)


try:
    import polars as pl

    df = load(pl, INPUT_PATH)
    with open(PROGRAM_PATH, encoding="utf-8") as fh:
        source = fh.read()
    namespace = {"pl": pl, "df": df, "__name__": "__program__"}
    exec(compile(source, "program.py", "exec"), namespace)
    result = namespace.get("result", namespace.get("result_df"))
    if result is None:
        raise NameError("program must bind the transformed frame to 'result'")
    if isinstance(result, pl.LazyFrame):
        result = result.collect()
    if not isinstance(result, pl.DataFrame):
        raise TypeError("'result' must be a polars DataFrame, got " + type(result).__name__)
    result.write_csv(OUTPUT_PATH)
    emit({
        "rows": result.height,
        "columns": result.width,
        "column_names": result.columns,
        "dtypes": {name: str(dtype) for name, dtype in result.schema.items()},
    })
except BaseException as exc:
    emit({"error": str(exc) or type(exc).__name__, "traceback": traceback.format_exc()})
    sys.exit(1)
`

var harnessTemplate = template.Must(template.New("harness").Funcs(template.FuncMap{
	"py": pyString,
}).Parse(harnessSource))

type harnessParams struct {
	InputPath   string
	OutputPath  string
	ProgramPath string
}

func renderHarness(params harnessParams) ([]byte, error) {
	var buf bytes.Buffer
	if err := harnessTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("render harness: %w", err)
	}
	return buf.Bytes(), nil
}

// pyString renders s as a Python string literal. JSON string syntax is a
// subset of Python's.
func pyString(s string) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Stats is the summary the harness prints after a successful run.
type Stats struct {
	Rows        int               `json:"rows"`
	Columns     int               `json:"columns"`
	ColumnNames []string          `json:"column_names"`
	ColumnTypes map[string]string `json:"dtypes"`
}

type harnessFailure struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback"`
}

// lastLine returns the final non-empty line of output.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\r\n\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func parseStats(output string) (Stats, error) {
	line := lastLine(output)
	if line == "" {
		return Stats{}, fmt.Errorf("no summary line in output")
	}
	var stats Stats
	if err := json.Unmarshal([]byte(line), &stats); err != nil {
		return Stats{}, fmt.Errorf("parse summary line: %w", err)
	}
	if stats.ColumnNames == nil {
		return Stats{}, fmt.Errorf("summary line has no column names")
	}
	return stats, nil
}

func parseFailure(output string) (harnessFailure, bool) {
	line := lastLine(output)
	if line == "" {
		return harnessFailure{}, false
	}
	var failure harnessFailure
	if err := json.Unmarshal([]byte(line), &failure); err != nil || failure.Error == "" {
		return harnessFailure{}, false
	}
	return failure, true
}
