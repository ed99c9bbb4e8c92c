package viewer

import (
	"html/template"
	"io"
	"strings"

	"mangalens/detect"
	"mangalens/internal/settings"
)

var pageTemplate = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>mangalens viewer</title>
<style>
body{margin:0;background:{{.Background}};color:{{.Foreground}};font-family:sans-serif}
.spread{display:flex;justify-content:center;gap:0;margin:0 0 8px}
.spread img{max-height:100vh;max-width:{{if .Single}}100vw{{else}}50vw{{end}}}
.empty{padding:2em;text-align:center}
</style></head>
<body>
{{if .Open}}{{if .Pages}}{{range $i, $p := .Pages}}<div class="spread" id="p{{$i}}">{{range $p}}<img src="{{.Src}}" alt="">{{end}}</div>
{{end}}{{else}}<p class="empty">No images found</p>
{{end}}{{else}}<p class="empty">Viewer closed</p>
{{end}}</body></html>
`))

type renderImage struct {
	Src template.URL
}

type renderData struct {
	Open       bool
	Single     bool
	Background template.CSS
	Foreground template.CSS
	Pages      [][]renderImage
}

// Render writes a standalone HTML page for the current state.
func (v *Viewer) Render(w io.Writer) error {
	v.mu.RLock()
	data := renderData{Open: v.open, Single: v.single}
	bg := v.background
	spreads := pages(v.images, v.single)
	v.mu.RUnlock()

	col, ok := settings.ParseColor(bg)
	if !ok {
		col, _ = settings.ParseColor(settings.DefaultBackground)
	}
	data.Background = template.CSS(col.Hex())
	data.Foreground = template.CSS(col.Foreground().Hex())
	for _, spread := range spreads {
		row := make([]renderImage, 0, len(spread))
		for _, c := range spread {
			row = append(row, renderImage{Src: imageURL(c)})
		}
		data.Pages = append(data.Pages, row)
	}
	return pageTemplate.Execute(w, data)
}

// imageURL passes http(s) URLs and image data URIs through unescaped.
// Anything else is left to the template's URL filter.
func imageURL(c detect.Candidate) template.URL {
	lower := strings.ToLower(c.SourceURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:image/") {
		return template.URL(c.SourceURL)
	}
	return template.URL("#" + template.URLQueryEscaper(c.SourceURL))
}
