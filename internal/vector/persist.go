package vector

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ckoons/katra-sub000/internal/katraerr"
)

// on-disk layout:
//   header:      dimension(u32) vocabSize(u32) totalDocs(u32)
//   vocabulary:  vocabSize * { termLen(u16) term(bytes) docFreq(u32) }
//   records:     repeated until EOF: { idLen(u16) id(bytes) dim(u32) D*float64 magnitude(float64) }

func pathFor(root, ciID string) string {
	return filepath.Join(root, "tier2", "vectors", ciID+".bin")
}

// Save persists one CI's IDF table and embeddings to <root>/tier2/vectors/<ci_id>.bin.
func (s *Store) Save(ciID string) error {
	s.mu.RLock()
	idf, ok := s.idfByCI[ciID]
	docs := s.embeddings[ciID]
	dim := s.dim
	s.mu.RUnlock()
	if !ok {
		idf = newIDF()
	}

	path := pathFor(s.root, ciID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return katraerr.IO("failed to create vector directory", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return katraerr.IO("failed to create vector temp file", err)
	}
	w := bufio.NewWriter(f)

	vocab := idf.Vocabulary()
	_, totalDocs := idf.Snapshot()

	if err := writeU32(w, uint32(dim)); err != nil {
		f.Close()
		return err
	}
	if err := writeU32(w, uint32(len(vocab))); err != nil {
		f.Close()
		return err
	}
	if err := writeU32(w, uint32(totalDocs)); err != nil {
		f.Close()
		return err
	}
	for term, df := range vocab {
		if err := writeString(w, term); err != nil {
			f.Close()
			return err
		}
		if err := writeU32(w, uint32(df)); err != nil {
			f.Close()
			return err
		}
	}
	for id, emb := range docs {
		if err := writeString(w, id); err != nil {
			f.Close()
			return err
		}
		if err := writeU32(w, uint32(len(emb.Vector))); err != nil {
			f.Close()
			return err
		}
		for _, x := range emb.Vector {
			if err := binary.Write(w, binary.LittleEndian, x); err != nil {
				f.Close()
				return katraerr.IO("failed to write vector component", err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, emb.Magnitude); err != nil {
			f.Close()
			return katraerr.IO("failed to write vector magnitude", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return katraerr.IO("failed to flush vector temp file", err)
	}
	if err := f.Close(); err != nil {
		return katraerr.IO("failed to close vector temp file", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a previously saved CI corpus back into memory, replacing
// whatever IDF/embeddings were held for that CI. Missing files are not
// an error -- a CI with no persisted state just starts empty.
func (s *Store) Load(ciID string) error {
	path := pathFor(s.root, ciID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return katraerr.IO("failed to open vector file", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	dim, err := readU32(r)
	if err != nil {
		return err
	}
	vocabSize, err := readU32(r)
	if err != nil {
		return err
	}
	totalDocs, err := readU32(r)
	if err != nil {
		return err
	}

	df := make(map[string]int, vocabSize)
	for i := uint32(0); i < vocabSize; i++ {
		term, err := readString(r)
		if err != nil {
			return err
		}
		freq, err := readU32(r)
		if err != nil {
			return err
		}
		df[term] = int(freq)
	}

	embeddings := make(map[string]*Embedding)
	for {
		id, err := readString(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n, err := readU32(r)
		if err != nil {
			return err
		}
		vec := make([]float64, n)
		for i := range vec {
			if err := binary.Read(r, binary.LittleEndian, &vec[i]); err != nil {
				return katraerr.IO("failed to read vector component", err)
			}
		}
		var mag float64
		if err := binary.Read(r, binary.LittleEndian, &mag); err != nil {
			return katraerr.IO("failed to read vector magnitude", err)
		}
		embeddings[id] = &Embedding{RecordID: id, Vector: vec, Magnitude: mag}
	}

	idf := newIDF()
	idf.restore(df, int(totalDocs))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.idfByCI[ciID] = idf
	s.embeddings[ciID] = embeddings
	if int(dim) != 0 {
		s.dim = int(dim)
	}
	return nil
}

func writeU32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return katraerr.IO("failed to write vector header field", err)
	}
	return nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, katraerr.IO("failed to read vector header field", err)
	}
	return v, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return katraerr.InvalidParams("vector record id/term too long to persist")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return katraerr.IO("failed to write string length", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return katraerr.IO("failed to write string bytes", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", katraerr.IO("failed to read string length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", katraerr.IO("failed to read string bytes", err)
	}
	return string(buf), nil
}
