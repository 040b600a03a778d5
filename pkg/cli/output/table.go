package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row []string) {
	// 更新列宽
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

// Len 数据行数
func (t *Table) Len() int {
	return len(t.rows)
}

// Render 渲染表格
func (t *Table) Render() {
	// 打印表头
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Fprintf(Writer, "%-*s  ", t.widths[i], h)
	}
	fmt.Fprintln(Writer)

	// 打印分隔线
	for i := range t.headers {
		fmt.Fprint(Writer, strings.Repeat("-", t.widths[i])+"  ")
	}
	fmt.Fprintln(Writer)

	// 打印数据行
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprintf(Writer, "%-*s  ", t.widths[i], cell)
			}
		}
		fmt.Fprintln(Writer)
	}
}

// FormatTime 格式化时间，零值输出 "-"
func FormatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

// FormatMillis 格式化毫秒耗时
func FormatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	return d.Round(10 * time.Millisecond).String()
}
