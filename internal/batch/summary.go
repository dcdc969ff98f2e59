package batch

import (
	"fmt"
	"io"
	"strings"
)

// WriteSummary 输出运行结束时的统计
func WriteSummary(w io.Writer, s Summary, outputDir string) {
	line := strings.Repeat("=", 50)
	fmt.Fprintf(w, "\n%s\n", line)
	fmt.Fprintf(w, "  Completed: %d/%d succeeded, %d failed\n", s.Succeeded, s.Total, s.Failed)
	if len(s.Failures) > 0 {
		names := make([]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			names = append(names, fmt.Sprintf("%s #%d", f.Name, f.Variant))
		}
		fmt.Fprintf(w, "  Failed:    %s\n", strings.Join(names, ", "))
	}
	if outputDir != "" {
		fmt.Fprintf(w, "  Output:    %s\n", outputDir)
	}
	fmt.Fprintf(w, "%s\n", line)
}
