package logkv_test

import (
	"github.com/bsm/logkv"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Command", func() {
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

	It("should execute puts and gets", func() {
		res := subject.Do(logkv.Command{Kind: logkv.CmdPut, Key: []byte("a"), Value: []byte("1")})
		Expect(res.Status).To(Equal(logkv.StatusOK))

		res = subject.Do(logkv.Command{Kind: logkv.CmdGet, Key: []byte("a")})
		Expect(res.Status).To(Equal(logkv.StatusOK))
		Expect(res.Value).To(Equal([]byte("1")))
	})

	It("should report absent keys as not-found, not as errors", func() {
		res := subject.Do(logkv.Command{Kind: logkv.CmdGet, Key: []byte("missing")})
		Expect(res.Status).To(Equal(logkv.StatusNotFound))
		Expect(res.Err).NotTo(HaveOccurred())
	})

	It("should execute deletes", func() {
		Expect(subject.Put([]byte("a"), []byte("1"))).To(Succeed())

		res := subject.Do(logkv.Command{Kind: logkv.CmdDelete, Key: []byte("a")})
		Expect(res.Status).To(Equal(logkv.StatusOK))
		Expect(subject.Do(logkv.Command{Kind: logkv.CmdGet, Key: []byte("a")}).Status).To(Equal(logkv.StatusNotFound))
	})

	It("should execute scans", func() {
		Expect(subject.Put([]byte("app:1"), []byte("1"))).To(Succeed())
		Expect(subject.Put([]byte("app:2"), []byte("2"))).To(Succeed())
		Expect(subject.Put([]byte("bee"), []byte("3"))).To(Succeed())

		res := subject.Do(logkv.Command{Kind: logkv.CmdScan, Key: []byte("app:")})
		Expect(res.Status).To(Equal(logkv.StatusOK))
		Expect(res.Pairs).To(Equal([]logkv.KV{
			{Key: []byte("app:1"), Value: []byte("1")},
			{Key: []byte("app:2"), Value: []byte("2")},
		}))
	})

	It("should attach an error kind to every failure", func() {
		res := subject.Do(logkv.Command{Kind: logkv.CmdPut, Key: nil, Value: []byte("1")})
		Expect(res.Status).To(Equal(logkv.StatusError))
		Expect(res.Err).To(MatchError(logkv.ErrEmptyKey))

		res = subject.Do(logkv.Command{Kind: 99})
		Expect(res.Status).To(Equal(logkv.StatusError))
		Expect(res.Err).To(HaveOccurred())
	})
})
