package logkv_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bsm/logkv"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Recovery", func() {
	var dir string
	var subject *logkv.Store

	// each record below frames key "x" and value "n" in 9 bytes
	BeforeEach(func() {
		dir = newTestDir()
		subject = openStore(dir, nil)
		Expect(subject.Put([]byte("a"), []byte("1"))).To(Succeed())
		Expect(subject.Put([]byte("b"), []byte("2"))).To(Succeed())
		Expect(subject.Put([]byte("c"), []byte("3"))).To(Succeed())
	})

	AfterEach(func() {
		_ = subject.Close()
		removeAll(dir)
	})

	tailPath := func() string {
		return filepath.Join(dir, "000001.seg")
	}

	It("should truncate a torn tail record", func() {
		Expect(subject.Close()).To(Succeed())
		Expect(os.Truncate(tailPath(), 23)).To(Succeed()) // mid third record

		subject = openStore(dir, nil)
		Expect(subject.Get([]byte("a"))).To(Equal([]byte("1")))
		Expect(subject.Get([]byte("b"))).To(Equal([]byte("2")))
		_, err := subject.Get([]byte("c"))
		Expect(err).To(MatchError(logkv.ErrNotFound))

		info, err := os.Stat(tailPath())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(18)))

		// appends continue cleanly after the truncation
		Expect(subject.Put([]byte("d"), []byte("4"))).To(Succeed())
		Expect(subject.Close()).To(Succeed())
		subject = openStore(dir, nil)
		Expect(subject.Get([]byte("d"))).To(Equal([]byte("4")))
		Expect(subject.Len()).To(Equal(3))
	})

	It("should truncate the tail at a damaged record", func() {
		Expect(subject.Close()).To(Succeed())
		flipByte(tailPath(), 20) // inside the third record

		subject = openStore(dir, nil)
		Expect(subject.Len()).To(Equal(2))
		_, err := subject.Get([]byte("c"))
		Expect(err).To(MatchError(logkv.ErrNotFound))

		info, err := os.Stat(tailPath())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(18)))
	})

	It("should surface corruption on reads", func() {
		flipByte(tailPath(), 4) // value byte of the record for "a"

		_, err := subject.Get([]byte("a"))
		Expect(err).To(MatchError(logkv.ErrCorrupted))

		// other records are unaffected
		Expect(subject.Get([]byte("b"))).To(Equal([]byte("2")))
	})

	It("should replay records larger than the configured limits", func() {
		big := bytes.Repeat([]byte("v"), 2048)
		Expect(subject.Put([]byte("big"), big)).To(Succeed())
		Expect(subject.Close()).To(Succeed())

		subject = openStore(dir, &logkv.Options{MaxValueSize: 1024})
		Expect(subject.Get([]byte("big"))).To(Equal(big))
		Expect(subject.Len()).To(Equal(4))

		// the tighter limit still applies to new writes
		Expect(subject.Put([]byte("big"), big)).To(MatchError(logkv.ErrValueTooLarge))
	})

	It("should replay segments in id order", func() {
		Expect(subject.Close()).To(Succeed())
		removeAll(dir)

		subject = openStore(dir, &logkv.Options{SegmentSize: 128})
		for i := 0; i < 50; i++ {
			Expect(subject.Put([]byte("key"), []byte(fmt.Sprintf("v%03d", i)))).To(Succeed())
		}
		Expect(subject.Close()).To(Succeed())

		subject = openStore(dir, &logkv.Options{SegmentSize: 128})
		Expect(subject.Get([]byte("key"))).To(Equal([]byte("v049")))
		Expect(subject.Len()).To(Equal(1))
		Expect(subject.Seq()).To(Equal(uint64(50)))
	})
})

// flipByte inverts a single byte of a file in place.
func flipByte(path string, off int64) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	Expect(err).NotTo(HaveOccurred())
	defer file.Close()

	buf := make([]byte, 1)
	_, err = file.ReadAt(buf, off)
	Expect(err).NotTo(HaveOccurred())
	buf[0] ^= 0xff
	_, err = file.WriteAt(buf, off)
	Expect(err).NotTo(HaveOccurred())
}
