package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kjstillabower/weather-know/internal/models"
)

// formatTemp prints a temperature the way the provider reports it, without
// trailing zeros.
func formatTemp(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64) + "°C"
}

func description(conds []models.Condition) string {
	if len(conds) == 0 {
		return "-"
	}
	return conds[0].Description
}

// RenderWeather draws the current-weather card.
func RenderWeather(w models.WeatherSnapshot) string {
	lines := []string{
		cardTitleStyle.Render(w.Name),
		"Temperature  " + tempStyle.Render(formatTemp(w.Main.Temp)),
		fmt.Sprintf("Humidity     %d%%", w.Main.Humidity),
		"Conditions   " + description(w.Weather),
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

// RenderForecast draws one cell per day, wrapping to fit width.
func RenderForecast(city string, entries []models.ForecastEntry, loc *time.Location, width int) string {
	title := cardTitleStyle.Render("5-Day Forecast of " + city)
	if len(entries) == 0 {
		return title + "\n" + hintStyle.Render("No forecast data.")
	}

	cells := make([]string, 0, len(entries))
	for _, e := range entries {
		t := time.Unix(e.Dt, 0).In(loc)
		cells = append(cells, forecastCellStyle.Render(strings.Join([]string{
			t.Format("Mon Jan 2"),
			hintStyle.Render(t.Format("15:04")),
			tempStyle.Render(formatTemp(e.Main.Temp)),
			description(e.Weather),
		}, "\n")))
	}

	perRow := len(cells)
	if cellW := lipgloss.Width(cells[0]); width > 0 && cellW > 0 {
		perRow = max(1, width/cellW)
	}
	var rows []string
	for i := 0; i < len(cells); i += perRow {
		end := min(i+perRow, len(cells))
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells[i:end]...))
	}
	return title + "\n" + lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderHints(disabled bool) string {
	key := hintKeyStyle
	if disabled {
		key = hintStyle
	}
	return key.Render("enter") + hintStyle.Render(" current weather  ") +
		key.Render("ctrl+f") + hintStyle.Render(" 5-day forecast  ") +
		hintKeyStyle.Render("esc") + hintStyle.Render(" quit")
}
