// Package archive implements the portable game package: a zip container
// with a game.json manifest plus one image per distinct referenced asset,
// renumbered to package-local ids so the package replays independently of
// the source game's id space.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"vttkit/assets"
	"vttkit/core"
)

// ManifestName is the fixed name of the manifest entry.
const ManifestName = "game.json"

// imageExt is the fixed extension of packaged images.
const imageExt = "png"

type manifest struct {
	Scenes []manifestScene `json:"scenes"`
	Tokens []manifestToken `json:"tokens"`
}

type manifestScene struct {
	// Tokens holds indices into the manifest's token list.
	Tokens []int `json:"tokens"`
	// Backing is the index of the background token, if any.
	Backing *int `json:"backing"`
}

type manifestToken struct {
	URL    int     `json:"url"`
	PosX   int     `json:"posx"`
	PosY   int     `json:"posy"`
	ZOrder int     `json:"zorder"`
	Size   int     `json:"size"`
	Rotate float64 `json:"rotate"`
	FlipX  bool    `json:"flipx"`
	Locked bool    `json:"locked"`
}

// Export packages the game into a self-contained archive. Tokens whose
// asset cannot be resolved on disk are dropped rather than failing the
// export; dangling references are tolerated transiently by contract.
func Export(g *core.Game, store *assets.Store) ([]byte, error) {
	var m manifest
	local := map[int]int{} // source asset id -> package-local id
	images := map[int][]byte{}

	for _, sc := range g.Scenes {
		ms := manifestScene{Tokens: []int{}}
		for _, tok := range sc.Tokens {
			srcID, err := core.AssetIDFromURL(tok.URL)
			if err != nil {
				continue
			}
			pkgID, ok := local[srcID]
			if !ok {
				p, found := store.Path(srcID)
				if !found {
					continue
				}
				data, err := os.ReadFile(p)
				if err != nil {
					continue
				}
				pkgID = len(local)
				local[srcID] = pkgID
				images[pkgID] = data
			}
			idx := len(m.Tokens)
			m.Tokens = append(m.Tokens, manifestToken{
				URL:    pkgID,
				PosX:   tok.PosX,
				PosY:   tok.PosY,
				ZOrder: tok.ZOrder,
				Size:   tok.Size,
				Rotate: tok.Rotate,
				FlipX:  tok.FlipX,
				Locked: tok.Locked,
			})
			ms.Tokens = append(ms.Tokens, idx)
			if sc.Backing != nil && tok.ID == *sc.Backing {
				b := idx
				ms.Backing = &b
			}
		}
		m.Scenes = append(m.Scenes, ms)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.Create(ManifestName)
	if err != nil {
		return nil, fmt.Errorf("create manifest entry: %w", err)
	}
	if err := json.NewEncoder(mw).Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	ids := make([]int, 0, len(images))
	for id := range images {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		w, err := zw.Create(fmt.Sprintf("%d.%s", id, imageExt))
		if err != nil {
			return nil, fmt.Errorf("create image entry %d: %w", id, err)
		}
		if _, err := w.Write(images[id]); err != nil {
			return nil, fmt.Errorf("write image entry %d: %w", id, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Import reconstructs a game from an archive, re-uploading every packaged
// image through the destination store so ids are freshly assigned and
// deduplicated against existing destination assets. The archive is fully
// validated before anything is written; a malformed manifest or missing
// image fails the import with no partial state.
func Import(data []byte, store *assets.Store, key core.GameKey) (*core.Game, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip container", core.ErrMalformedArchive)
	}

	entries := map[string]*zip.File{}
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	mf, ok := entries[ManifestName]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", core.ErrMalformedArchive, ManifestName)
	}
	raw, err := readEntry(mf)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %v", core.ErrMalformedArchive, err)
	}

	// validate before touching the destination store
	images := map[int][]byte{}
	for i, sc := range m.Scenes {
		for _, idx := range sc.Tokens {
			if idx < 0 || idx >= len(m.Tokens) {
				return nil, fmt.Errorf("%w: scene %d references token %d", core.ErrMalformedArchive, i, idx)
			}
		}
		if sc.Backing != nil && !contains(sc.Tokens, *sc.Backing) {
			return nil, fmt.Errorf("%w: scene %d backing %d outside scene", core.ErrMalformedArchive, i, *sc.Backing)
		}
	}
	for _, tok := range m.Tokens {
		if _, done := images[tok.URL]; done {
			continue
		}
		name := fmt.Sprintf("%d.%s", tok.URL, imageExt)
		f, ok := entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: image %s missing", core.ErrMalformedArchive, name)
		}
		img, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", name, err)
		}
		images[tok.URL] = img
	}

	urls := map[int]string{} // package-local id -> destination url
	for pkgID, img := range images {
		_, url, err := store.Upload(img, fmt.Sprintf("%d.%s", pkgID, imageExt))
		if err != nil {
			return nil, fmt.Errorf("import image %d: %w", pkgID, err)
		}
		urls[pkgID] = url
	}

	g := &core.Game{Key: key}
	for _, sc := range m.Scenes {
		scene := core.Scene{}
		for _, idx := range sc.Tokens {
			mt := m.Tokens[idx]
			tok := core.Token{
				ID:     g.NextTokenID,
				URL:    urls[mt.URL],
				PosX:   mt.PosX,
				PosY:   mt.PosY,
				ZOrder: mt.ZOrder,
				Size:   mt.Size,
				Rotate: mt.Rotate,
				FlipX:  mt.FlipX,
				Locked: mt.Locked,
			}
			g.NextTokenID++
			if sc.Backing != nil && idx == *sc.Backing {
				id := tok.ID
				scene.Backing = &id
			}
			scene.Tokens = append(scene.Tokens, tok)
		}
		g.Scenes = append(g.Scenes, scene)
	}
	return g, nil
}

// FromImage builds a game with a single scene whose only token is the
// background wrapping the uploaded image.
func FromImage(data []byte, hint string, store *assets.Store, key core.GameKey) (*core.Game, error) {
	_, url, err := store.Upload(data, hint)
	if err != nil {
		return nil, err
	}
	backing := 0
	return &core.Game{
		Key:         key,
		NextTokenID: 1,
		Scenes: []core.Scene{{
			Tokens:  []core.Token{{ID: 0, URL: url, Size: -1}},
			Backing: &backing,
		}},
	}, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
