package process

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoders for DecodeConfig
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/tiff"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

// rawImage is an image extracted from a document before it is written out.
type rawImage struct {
	Page   int
	Name   string // PDF XObject resource name, empty outside embedded PDF images
	Data   []byte
	Ext    string
	Width  int
	Height int
	Box    domain.BBox
}

// embeddedImages extracts the raster images of a PDF grouped by page, in object order.
// Images smaller than minPx on either side after decoding and formats the models cannot read are dropped.
func embeddedImages(path string, minPx int) (out map[int][]rawImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf image extraction: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.ExtractImagesRaw(f, nil, conf)
	if err != nil {
		return nil, err
	}

	out = make(map[int][]rawImage)
	for _, byObj := range pages {
		objs := make([]int, 0, len(byObj))
		for nr := range byObj {
			objs = append(objs, nr)
		}
		sort.Ints(objs)
		for _, nr := range objs {
			img := byObj[nr]
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read image %d on page %d: %w", nr, img.PageNr, err)
			}
			ri, ok := normalizeImage(data, img.FileType)
			if !ok {
				continue
			}
			if ri.Width == 0 && ri.Height == 0 {
				ri.Width, ri.Height = img.Width, img.Height
			}
			// Sizes stay unknown when neither the decoder nor the dictionary reports them.
			if (ri.Width > 0 || ri.Height > 0) && (ri.Width < minPx || ri.Height < minPx) {
				continue
			}
			ri.Page, ri.Name = img.PageNr, img.Name
			out[img.PageNr] = append(out[img.PageNr], ri)
		}
	}
	return out, nil
}

// normalizeImage keeps PNG, JPEG and GIF as they are and converts TIFF to PNG.
func normalizeImage(data []byte, fileType string) (rawImage, bool) {
	ext := strings.ToLower(strings.TrimPrefix(fileType, "."))
	switch ext {
	case "jpeg":
		ext = "jpg"
	case "tif", "tiff":
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return rawImage{}, false
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return rawImage{}, false
		}
		b := img.Bounds()
		return rawImage{Data: buf.Bytes(), Ext: "png", Width: b.Dx(), Height: b.Dy()}, true
	}
	switch ext {
	case "png", "jpg", "gif":
	default:
		return rawImage{}, false
	}
	ri := rawImage{Data: data, Ext: ext}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ri.Width, ri.Height = cfg.Width, cfg.Height
	}
	return ri, true
}

// renderPages rasterizes the given 1-based pages at dpi. Vector figures have no embedded raster,
// so rendering the figure page is the only way to hand them to a model.
func renderPages(path string, pages []int, dpi int) (map[int][]rawImage, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open for rendering: %w", err)
	}
	defer doc.Close()

	out := make(map[int][]rawImage, len(pages))
	for _, p := range pages {
		if p < 1 || p > doc.NumPage() {
			continue
		}
		img, err := doc.ImageDPI(p-1, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", p, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", p, err)
		}
		b := img.Bounds()
		out[p] = append(out[p], rawImage{Page: p, Data: buf.Bytes(), Ext: "png", Width: b.Dx(), Height: b.Dy()})
	}
	return out, nil
}

// imageExt maps a file name or MIME-ish extension to a supported image extension.
func imageExt(name string) (string, bool) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", false
	}
	switch e := strings.ToLower(name[i+1:]); e {
	case "png", "gif":
		return e, true
	case "jpg", "jpeg":
		return "jpg", true
	case "tif", "tiff":
		return "tif", true
	}
	return "", false
}
