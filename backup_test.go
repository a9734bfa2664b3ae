package logkv_test

import (
	"bytes"

	"github.com/bsm/logkv"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Backup", func() {
	var dir string
	var subject *logkv.Store

	BeforeEach(func() {
		dir = newTestDir()
		subject = openStore(dir, nil)
	})

	AfterEach(func() {
		_ = subject.Close()
		removeAll(dir)
	})

	It("should round-trip through a backup stream", func() {
		seedStore(subject, 100)
		Expect(subject.Delete([]byte("key-00042"))).To(Succeed())

		buf := new(bytes.Buffer)
		Expect(subject.Backup(buf)).To(Succeed())

		dir2 := newTestDir()
		defer removeAll(dir2)

		restored := openStore(dir2, nil)
		defer restored.Close()

		Expect(restored.Restore(buf)).To(Succeed())
		Expect(restored.Len()).To(Equal(99))
		Expect(restored.Get([]byte("key-00007"))).To(Equal([]byte("val-00007")))

		_, err := restored.Get([]byte("key-00042"))
		Expect(err).To(MatchError(logkv.ErrNotFound))
	})

	It("should overwrite existing keys on restore", func() {
		Expect(subject.Put([]byte("key"), []byte("new"))).To(Succeed())

		buf := new(bytes.Buffer)
		Expect(subject.Backup(buf)).To(Succeed())

		dir2 := newTestDir()
		defer removeAll(dir2)

		restored := openStore(dir2, nil)
		defer restored.Close()
		Expect(restored.Put([]byte("key"), []byte("old"))).To(Succeed())
		Expect(restored.Put([]byte("keep"), []byte("me"))).To(Succeed())

		Expect(restored.Restore(buf)).To(Succeed())
		Expect(restored.Get([]byte("key"))).To(Equal([]byte("new")))
		Expect(restored.Get([]byte("keep"))).To(Equal([]byte("me")))
	})

	It("should reject damaged backup streams", func() {
		seedStore(subject, 10)

		buf := new(bytes.Buffer)
		Expect(subject.Backup(buf)).To(Succeed())

		raw := buf.Bytes()
		raw[len(raw)-3] ^= 0xff

		dir2 := newTestDir()
		defer removeAll(dir2)

		restored := openStore(dir2, nil)
		defer restored.Close()
		Expect(restored.Restore(bytes.NewReader(raw))).To(MatchError(logkv.ErrCorrupted))
	})
})
