package process

import (
	"fmt"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

func (p *Processor) convertPDF(src source) (*domain.Document, []placedImage, error) {
	pages, n, err := readPDF(src.Path)
	if err != nil {
		return nil, nil, domain.ConversionError("read pdf text", err)
	}
	body := bodySize(pages)

	perPage := make(map[int][]domain.Element, len(pages))
	geometry := make(map[int]pdfPage, len(pages))
	var figurePages []int
	for _, pg := range pages {
		geometry[pg.Number] = pg
		var els []domain.Element
		for _, b := range pg.Blocks {
			els = append(els, classifyBlock(b, body)...)
		}
		perPage[pg.Number] = els
		for _, e := range els {
			if e.Kind == domain.KindCaption && isFigureCaption(e.Text) {
				figurePages = append(figurePages, pg.Number)
				break
			}
		}
	}

	var raws map[int][]rawImage
	switch p.opts.ImageSource {
	case SourceRender:
		raws, err = renderPages(src.Path, figurePages, p.opts.RenderDPI)
	default:
		raws, err = embeddedImages(src.Path, p.opts.MinImagePx)
	}
	if err != nil {
		return nil, nil, domain.ConversionError("extract images", err)
	}

	doc := &domain.Document{ArticleID: src.ID, SourcePath: src.Path, Format: "pdf", Pages: n}
	var images []placedImage
	for page := 1; page <= n; page++ {
		var imgs []placedImage
		for i, ri := range raws[page] {
			ri.Box = imageBox(geometry[page], ri.Name)
			imgs = append(imgs, newImage(fmt.Sprintf("%s-p%d-%02d", src.ID, page, i+1), ri))
		}
		images = append(images, imgs...)
		for _, e := range placeImages(perPage[page], imgs, page) {
			e.Index = len(doc.Elements)
			doc.Elements = append(doc.Elements, e)
		}
	}
	return doc, images, nil
}

// placeImages interleaves a page's images with its text elements. The k-th image goes right before
// the k-th figure caption; images without a caption follow the last element of the page.
func placeImages(els []domain.Element, imgs []placedImage, page int) []domain.Element {
	if len(imgs) == 0 {
		return els
	}
	out := make([]domain.Element, 0, len(els)+len(imgs))
	next := 0
	for _, e := range els {
		if next < len(imgs) && e.Kind == domain.KindCaption && isFigureCaption(e.Text) {
			out = append(out, imageElement(imgs[next], page))
			next++
		}
		out = append(out, e)
	}
	for ; next < len(imgs); next++ {
		out = append(out, imageElement(imgs[next], page))
	}
	return out
}

// imageBox is where the named image is painted on pg, or the whole page when that is unknown.
// Rendered pages carry no name and always cover the page.
func imageBox(pg pdfPage, name string) domain.BBox {
	if box, ok := pg.Placements[name]; ok && name != "" {
		return box
	}
	return pg.Box
}

func imageElement(img placedImage, page int) domain.Element {
	return domain.Element{Kind: domain.KindImage, Page: page, BBox: img.Box, Image: img.Info}
}

func (p *Processor) convertDOCX(src source) (*domain.Document, []placedImage, error) {
	items, err := readDOCX(src.Path)
	if err != nil {
		return nil, nil, domain.ConversionError("read docx", err)
	}
	doc := &domain.Document{ArticleID: src.ID, SourcePath: src.Path, Format: "docx"}
	var images []placedImage
	for _, it := range items {
		el := it.Element
		if it.Image != nil {
			ri, ok := docxRawImage(it.Image)
			if !ok || (ri.Width > 0 && (ri.Width < p.opts.MinImagePx || ri.Height < p.opts.MinImagePx)) {
				continue
			}
			img := newImage(fmt.Sprintf("%s-m%02d", src.ID, len(images)+1), ri)
			images = append(images, img)
			el.Image = img.Info
		}
		el.Index = len(doc.Elements)
		doc.Elements = append(doc.Elements, el)
	}
	return doc, images, nil
}
