package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// Header CSV 表头。
var Header = []string{"run_id", "mode", "engine", "dimension", "value", "avg_seconds", "std_seconds", "price", "std_err"}

func (r Row) record() []string {
	return []string{
		r.RunID,
		string(r.Mode),
		string(r.Engine),
		string(r.Dimension),
		strconv.Itoa(r.Value),
		strconv.FormatFloat(r.AvgSeconds, 'f', 6, 64),
		strconv.FormatFloat(r.StdSeconds, 'f', 6, 64),
		strconv.FormatFloat(r.Price, 'f', 6, 64),
		strconv.FormatFloat(r.StdErr, 'f', 6, 64),
	}
}

// WriteCSV 写出表头与全部结果行。
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile 将结果写入文件，已存在时覆盖。
func WriteCSVFile(path string, rows []Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteCSV(f, rows)
}

// PrintTable 以对齐的文本表格输出结果。
func PrintTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "mode\tengine\tdimension\tvalue\tavg_s\tstd_s\tprice\tstd_err\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t\n",
			r.Mode, r.Engine, r.Dimension, r.Value, r.AvgSeconds, r.StdSeconds, r.Price, r.StdErr)
	}
	return tw.Flush()
}
