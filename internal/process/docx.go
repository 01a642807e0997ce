package process

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

const (
	nsW   = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsR   = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsA   = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsVML = "urn:schemas-microsoft-com:vml"
)

var headingStyleRe = regexp.MustCompile(`(?i)^(?:heading|überschrift|berschrift|titre)\s*(\d)$`)

// docxImage is a media part referenced from the document body.
type docxImage struct {
	Name string
	Data []byte
	Ext  string
}

// docxItem is a body element before ids are assigned; Image is set for image elements.
type docxItem struct {
	Element domain.Element
	Image   *docxImage
}

// readDOCX parses word/document.xml into body elements in document order.
func readDOCX(path string) ([]docxItem, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}
	body, ok := parts["word/document.xml"]
	if !ok {
		return nil, fmt.Errorf("docx: word/document.xml missing")
	}
	rels, err := readRels(parts["word/_rels/document.xml.rels"])
	if err != nil {
		return nil, err
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	p := &docxParser{parts: parts, rels: rels}
	if err := p.parse(xml.NewDecoder(rc)); err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}
	return p.items, nil
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

func readRels(f *zip.File) (map[string]string, error) {
	out := make(map[string]string)
	if f == nil {
		return out, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open rels: %w", err)
	}
	defer rc.Close()
	var doc struct {
		Rels []relationship `xml:"Relationship"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse rels: %w", err)
	}
	for _, r := range doc.Rels {
		if strings.EqualFold(r.TargetMode, "External") {
			continue
		}
		t := r.Target
		if strings.HasPrefix(t, "/") {
			t = strings.TrimPrefix(t, "/")
		} else {
			t = path.Join("word", t)
		}
		out[r.ID] = t
	}
	return out, nil
}

type docxParser struct {
	parts map[string]*zip.File
	rels  map[string]string
	items []docxItem

	// paragraph state
	para    strings.Builder
	style   string
	inText  bool
	blips   []string
	inPara  int
	tblRows [][]string
	row     []string
	cell    strings.Builder
	tblDeep int
}

func (p *docxParser) parse(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			if p.inText {
				if p.tblDeep > 0 {
					p.cell.Write(t)
				} else {
					p.para.Write(t)
				}
			}
		}
	}
}

func attr(e xml.StartElement, space, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local && (a.Name.Space == space || space == "") {
			return a.Value
		}
	}
	return ""
}

func (p *docxParser) start(e xml.StartElement) {
	switch {
	case e.Name.Space == nsW && e.Name.Local == "tbl":
		p.tblDeep++
		if p.tblDeep == 1 {
			p.tblRows = nil
		}
	case e.Name.Space == nsW && e.Name.Local == "tr" && p.tblDeep == 1:
		p.row = nil
	case e.Name.Space == nsW && e.Name.Local == "tc" && p.tblDeep == 1:
		p.cell.Reset()
	case e.Name.Space == nsW && e.Name.Local == "p":
		p.inPara++
		if p.tblDeep == 0 && p.inPara == 1 {
			p.para.Reset()
			p.style = ""
			p.blips = nil
		} else if p.tblDeep > 0 && p.cell.Len() > 0 {
			p.cell.WriteByte(' ')
		}
	case e.Name.Space == nsW && e.Name.Local == "pStyle":
		p.style = attr(e, nsW, "val")
	case e.Name.Space == nsW && e.Name.Local == "t":
		p.inText = true
	case e.Name.Space == nsW && (e.Name.Local == "tab" || e.Name.Local == "br"):
		if p.tblDeep > 0 {
			p.cell.WriteByte(' ')
		} else if p.inPara > 0 {
			p.para.WriteByte(' ')
		}
	case e.Name.Space == nsA && e.Name.Local == "blip":
		if id := attr(e, nsR, "embed"); id != "" && p.tblDeep == 0 {
			p.blips = append(p.blips, id)
		}
	case e.Name.Space == nsVML && e.Name.Local == "imagedata":
		if id := attr(e, nsR, "id"); id != "" && p.tblDeep == 0 {
			p.blips = append(p.blips, id)
		}
	}
}

func (p *docxParser) end(e xml.EndElement) {
	if e.Name.Space != nsW {
		return
	}
	switch e.Name.Local {
	case "t":
		p.inText = false
	case "tc":
		if p.tblDeep == 1 {
			p.row = append(p.row, strings.Join(strings.Fields(p.cell.String()), " "))
		}
	case "tr":
		if p.tblDeep == 1 && len(p.row) > 0 {
			p.tblRows = append(p.tblRows, p.row)
		}
	case "tbl":
		p.tblDeep--
		if p.tblDeep == 0 && len(p.tblRows) > 0 {
			p.items = append(p.items, docxItem{Element: domain.Element{
				Kind: domain.KindTable, Rows: p.tblRows, Text: tableMarkdown(p.tblRows),
			}})
			p.tblRows = nil
		}
	case "p":
		p.inPara--
		if p.tblDeep == 0 && p.inPara == 0 {
			p.flushParagraph()
		}
	}
}

func (p *docxParser) flushParagraph() {
	text := strings.Join(strings.Fields(p.para.String()), " ")
	if text != "" {
		el := domain.Element{Kind: domain.KindText, Text: text}
		switch lvl, ok := styleLevel(p.style); {
		case ok:
			el.Kind, el.Level = domain.KindHeading, lvl
		case strings.EqualFold(p.style, "Caption") || isCaption(text):
			el.Kind = domain.KindCaption
		}
		p.items = append(p.items, docxItem{Element: el})
	}
	for _, id := range p.blips {
		img, ok := p.media(id)
		if !ok {
			continue
		}
		p.items = append(p.items, docxItem{Element: domain.Element{Kind: domain.KindImage}, Image: img})
	}
}

// styleLevel maps Word heading styles to depths; Title counts as level 1.
func styleLevel(style string) (int, bool) {
	if strings.EqualFold(style, "Title") {
		return 1, true
	}
	m := headingStyleRe.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	if n < 1 {
		n = 1
	}
	return n, true
}

func (p *docxParser) media(relID string) (*docxImage, bool) {
	name, ok := p.rels[relID]
	if !ok {
		return nil, false
	}
	f, ok := p.parts[name]
	if !ok {
		return nil, false
	}
	ext, ok := imageExt(name)
	if !ok {
		return nil, false
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false
	}
	return &docxImage{Name: name, Data: data, Ext: ext}, true
}

// docxRawImage converts a media part into a rawImage, decoding its dimensions.
func docxRawImage(img *docxImage) (rawImage, bool) {
	if img.Ext == "tif" {
		return normalizeImage(img.Data, "tif")
	}
	ri := rawImage{Data: img.Data, Ext: img.Ext}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
		ri.Width, ri.Height = cfg.Width, cfg.Height
	}
	return ri, true
}
