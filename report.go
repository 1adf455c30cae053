package main

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// ===========================================================================
// RUN REPORT
// ===========================================================================
//
// A self-contained HTML page for one training run: summary cards plus a
// train/validation loss chart over epochs. Plain HTML, CSS and a canvas -
// no external plotting dependencies, so the file opens anywhere and can be
// archived next to the checkpoints it describes.
//
// ===========================================================================

// SaveReportHTML renders the run report for a finished (or in-progress)
// history to path.
func SaveReportHTML(cfg *Config, h *History, path string) error {
	rows := h.Rows()
	if len(rows) == 0 {
		return fmt.Errorf("report: history is empty, nothing to render")
	}

	epochs := make([]int, len(rows))
	trainLosses := make([]float64, len(rows))
	valLosses := make([]float64, len(rows))
	bestVal := rows[0].ValidationLoss
	for i, row := range rows {
		epochs[i] = row.Epoch
		trainLosses[i] = row.TrainLoss
		valLosses[i] = row.ValidationLoss
		if row.ValidationLoss < bestVal {
			bestVal = row.ValidationLoss
		}
	}
	final := rows[len(rows)-1]

	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Training Report - %s model_%d</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', sans-serif;
            background: #0d1117;
            color: #c9d1d9;
            padding: 20px;
            line-height: 1.6;
        }
        .container { max-width: 1000px; margin: 0 auto; }
        h1 { font-size: 28px; margin-bottom: 10px; color: #58a6ff; }
        .subtitle { color: #8b949e; margin-bottom: 30px; font-size: 14px; }
        .stats {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
            gap: 15px;
            margin-bottom: 30px;
        }
        .stat-card {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 15px;
        }
        .stat-label {
            font-size: 12px;
            color: #8b949e;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 5px;
        }
        .stat-value { font-size: 24px; font-weight: 600; color: #58a6ff; }
        .chart-container {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 20px;
        }
        .chart-title { font-size: 18px; font-weight: 600; margin-bottom: 15px; }
        .legend { font-size: 13px; color: #8b949e; margin-bottom: 10px; }
        .legend span { margin-right: 18px; }
        .swatch {
            display: inline-block;
            width: 10px; height: 10px;
            border-radius: 2px;
            margin-right: 6px;
        }
        canvas { width: 100%% !important; height: 340px !important; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Training Report</h1>
        <div class="subtitle">%s attention, %d recurrent layer(s)</div>

        <div class="stats">
            <div class="stat-card">
                <div class="stat-label">Epochs</div>
                <div class="stat-value">%d</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Best Validation Loss</div>
                <div class="stat-value">%.4f</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Final Train Loss</div>
                <div class="stat-value">%.4f</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Final Validation Loss</div>
                <div class="stat-value">%.4f</div>
            </div>
        </div>

        <div class="chart-container">
            <div class="chart-title">Loss by Epoch</div>
            <div class="legend">
                <span><span class="swatch" style="background:#58a6ff"></span>train</span>
                <span><span class="swatch" style="background:#56d364"></span>validation</span>
            </div>
            <canvas id="lossChart"></canvas>
        </div>
    </div>

    <script>
        const epochs = %s;
        const series = [
            { data: %s, color: '#58a6ff' },
            { data: %s, color: '#56d364' }
        ];

        function drawChart() {
            const canvas = document.getElementById('lossChart');
            const ctx = canvas.getContext('2d');
            const dpr = window.devicePixelRatio || 1;
            const rect = canvas.getBoundingClientRect();
            canvas.width = rect.width * dpr;
            canvas.height = rect.height * dpr;
            ctx.scale(dpr, dpr);

            const width = rect.width;
            const height = rect.height;
            const padding = 50;
            const chartWidth = width - 2 * padding;
            const chartHeight = height - 2 * padding;

            const all = series.flatMap(s => s.data).filter(v => v !== null);
            const minVal = Math.min(...all);
            const maxVal = Math.max(...all);
            const range = (maxVal - minVal) || 1;
            const minEpoch = epochs[0];
            const maxEpoch = epochs[epochs.length - 1];
            const epochRange = (maxEpoch - minEpoch) || 1;

            ctx.strokeStyle = '#30363d';
            ctx.lineWidth = 1;
            ctx.beginPath();
            ctx.moveTo(padding, padding);
            ctx.lineTo(padding, height - padding);
            ctx.lineTo(width - padding, height - padding);
            ctx.stroke();

            ctx.strokeStyle = '#21262d';
            for (let i = 1; i < 5; i++) {
                const y = padding + (chartHeight * i / 5);
                ctx.beginPath();
                ctx.moveTo(padding, y);
                ctx.lineTo(width - padding, y);
                ctx.stroke();

                const val = maxVal - (range * i / 5);
                ctx.fillStyle = '#8b949e';
                ctx.font = '11px monospace';
                ctx.textAlign = 'right';
                ctx.fillText(val.toFixed(4), padding - 10, y + 4);
            }

            for (const s of series) {
                ctx.strokeStyle = s.color;
                ctx.lineWidth = 2;
                ctx.beginPath();
                for (let i = 0; i < s.data.length; i++) {
                    const x = padding + (chartWidth * (epochs[i] - minEpoch) / epochRange);
                    const y = height - padding - (chartHeight * (s.data[i] - minVal) / range);
                    if (i === 0) { ctx.moveTo(x, y); } else { ctx.lineTo(x, y); }
                }
                ctx.stroke();
            }

            ctx.fillStyle = '#8b949e';
            ctx.font = '11px monospace';
            ctx.textAlign = 'center';
            for (let i = 0; i <= 4; i++) {
                const epoch = minEpoch + (epochRange * i / 4);
                const x = padding + (chartWidth * i / 4);
                ctx.fillText(Math.round(epoch).toString(), x, height - padding + 20);
            }

            ctx.fillStyle = '#c9d1d9';
            ctx.font = '12px sans-serif';
            ctx.textAlign = 'center';
            ctx.fillText('Epoch', width / 2, height - 10);

            ctx.save();
            ctx.translate(15, height / 2);
            ctx.rotate(-Math.PI / 2);
            ctx.fillText('Loss', 0, 0);
            ctx.restore();
        }

        window.onload = drawChart;
        window.onresize = drawChart;
    </script>
</body>
</html>`,
		cfg.Attention, cfg.ModelNumber,
		cfg.Attention, cfg.ModelNumber,
		len(rows), bestVal, final.TrainLoss, final.ValidationLoss,
		formatJSArray(epochs),
		formatJSArrayFloat(trainLosses),
		formatJSArrayFloat(valLosses))

	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// formatJSArray formats an int slice as a JavaScript array literal.
func formatJSArray(arr []int) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	sb.WriteString("]")
	return sb.String()
}

// formatJSArrayFloat formats a float64 slice as a JavaScript array literal,
// mapping non-finite values to null so the chart simply skips them.
func formatJSArrayFloat(arr []float64) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			sb.WriteString("null")
		} else {
			fmt.Fprintf(&sb, "%.6f", v)
		}
	}
	sb.WriteString("]")
	return sb.String()
}
