// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqltypes

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
)

// NullMarker is how SQL NULL is shown in rendered datasets.
const NullMarker = "NULL"

//go:embed templates
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type datasetView struct {
	Columns     []string
	Rows        [][]string
	RowCount    int
	ColumnCount int
}

// Render returns the display form of the result: an HTML table for
// datasets, the message text, or "<Name>: <Description>" for errors.
func (r *Result) Render() string {
	switch r.Kind {
	case KindDataset:
		return r.Dataset.HTML()
	case KindMessage:
		return r.Message.Text
	case KindError:
		return r.Error.String()
	default:
		panic(fmt.Sprintf("sqltypes: unknown result kind %v", r.Kind))
	}
}

// HTML renders the dataset as a table with its shape in a footer.
func (d *Dataset) HTML() string {
	view := datasetView{
		Columns: d.Columns,
		Rows:    make([][]string, len(d.Rows)),
	}
	view.RowCount, view.ColumnCount = d.Shape()
	for i, row := range d.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			if v.IsNull() {
				cells[j] = NullMarker
			} else {
				cells[j] = string(v)
			}
		}
		view.Rows[i] = cells
	}

	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, "dataset.html", view); err != nil {
		// The template is static and the view only holds strings.
		panic(err)
	}
	return b.String()
}
