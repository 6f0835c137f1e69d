package vm

import (
	"testing"

	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/sharedarray"
)

func TestCollect_FreesUnreachable(t *testing.T) {
	v := newVM(t)
	s := v.NewString("garbage")
	if !v.IsAlive(s) {
		t.Fatal("fresh string should be alive")
	}
	before := v.Epoch()
	v.Collect()
	if v.IsAlive(s) {
		t.Fatal("unreferenced string survived collection")
	}
	if v.Epoch() <= before {
		t.Fatal("collection must advance the epoch")
	}
}

func TestCollect_HandleKinds(t *testing.T) {
	v := newVM(t)

	strongObj := v.NewString("strong")
	pinnedObj := v.NewString("pinned")
	weakObj := v.NewString("weak")

	strong, err := v.NewGCHandle(strongObj, managed.Strong)
	if err != nil {
		t.Fatalf("NewGCHandle: %v", err)
	}
	pinned, _ := v.NewGCHandle(pinnedObj, managed.Pinning)
	weak, _ := v.NewGCHandle(weakObj, managed.Weak)

	v.Collect()

	moved, ok := v.GCHandleTarget(strong)
	if !ok || moved == strongObj {
		t.Fatalf("strong target should move: got %#x (ok=%v), was %#x", moved, ok, strongObj)
	}
	if s, _ := v.StringValue(moved); s != "strong" {
		t.Fatalf("moved string = %q", s)
	}
	if v.IsAlive(strongObj) {
		t.Fatal("old address of a moved object must not resolve")
	}

	if got, _ := v.GCHandleTarget(pinned); got != pinnedObj {
		t.Fatalf("pinned target moved from %#x to %#x", pinnedObj, got)
	}

	got, ok := v.GCHandleTarget(weak)
	if !ok || got != managed.Null {
		t.Fatalf("weak target = %#x (ok=%v), want Null", got, ok)
	}

	if kind, _ := v.GCHandleKind(pinned); kind != managed.Pinning {
		t.Fatalf("kind = %v", kind)
	}
}

func TestCollect_WeakFollowsMovedTarget(t *testing.T) {
	v := newVM(t)
	obj := v.NewString("shared")
	strong, _ := v.NewGCHandle(obj, managed.Strong)
	weak, _ := v.NewGCHandle(obj, managed.Weak)

	v.Collect()

	s, _ := v.GCHandleTarget(strong)
	w, _ := v.GCHandleTarget(weak)
	if s != w || s == obj {
		t.Fatalf("strong %#x and weak %#x should both point at the moved object", s, w)
	}
}

func TestCollect_TracesFieldsAndStatics(t *testing.T) {
	v := newVM(t)
	img := open(t, v, buildImage(t, nodeImage(), nil))
	node := findClass(t, v, img, "Demo", "Node")
	next := findField(t, v, node, "next")
	label := findField(t, v, node, "label")
	root := findField(t, v, node, "root")

	head, _ := v.New(node)
	tail, _ := v.New(node)
	if err := v.SetField(head, next, tail); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := v.SetField(tail, label, v.NewString("tail")); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := v.SetField(managed.Null, root, head); err != nil {
		t.Fatalf("SetField static: %v", err)
	}

	v.Collect()

	newHead, _ := v.GetField(managed.Null, root)
	if newHead == head || !v.IsAlive(newHead) {
		t.Fatalf("static root should move and stay alive: %#x", newHead)
	}
	newTail, err := v.GetField(newHead, next)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	l, _ := v.GetField(newTail, label)
	if s, _ := v.StringValue(l); s != "tail" {
		t.Fatalf("label = %q", s)
	}
}

func TestFieldAccess_Errors(t *testing.T) {
	v := newVM(t)
	img := open(t, v, buildImage(t, nodeImage(), nil))
	node := findClass(t, v, img, "Demo", "Node")
	next := findField(t, v, node, "next")

	str := v.NewString("not a node")
	if _, err := v.GetField(str, next); err == nil {
		t.Fatal("expected type mismatch reading a Node field from a String")
	}
	obj, _ := v.New(node)
	if err := v.SetField(obj, next, managed.Ref(0xdead0)); err == nil {
		t.Fatal("expected error storing a dead reference")
	}
	if _, err := v.New(v.wk.exception.info.ID); err != nil {
		t.Fatalf("New(Exception): %v", err)
	}
	if _, err := v.New(v.wk.str.info.ID); err == nil {
		t.Fatal("strings cannot be created without contents")
	}
}

func TestBoxUnbox(t *testing.T) {
	v := newVM(t)
	r, err := v.Box(v.wk.int32.info.ID, []byte{7, 0, 0, 0})
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	raw, err := v.Unbox(r)
	if err != nil || len(raw) != 4 || raw[0] != 7 {
		t.Fatalf("Unbox = %v, %v", raw, err)
	}
	if _, err := v.Box(v.wk.int32.info.ID, []byte{1}); err == nil {
		t.Fatal("expected size mismatch")
	}
	if _, err := v.Box(v.wk.str.info.ID, nil); err == nil {
		t.Fatal("expected boxing a reference type to fail")
	}
	if _, err := v.Unbox(v.NewString("x")); err == nil {
		t.Fatal("expected unboxing a reference type to fail")
	}
}

func TestShareBytes_ReleasedOnCollect(t *testing.T) {
	v := newVM(t)
	freed := false
	arr := sharedarray.From([]byte("payload"), sharedarray.OnFree(func() { freed = true }))

	obj, err := v.ShareBytes(arr)
	if err != nil {
		t.Fatalf("ShareBytes: %v", err)
	}
	arr.Release()
	if freed {
		t.Fatal("heap reference should keep the array alive")
	}

	view, ok := v.SharedBytes(obj)
	if !ok || view != arr || string(view.Elements()) != "payload" {
		t.Fatal("SharedBytes should return the same array without copying")
	}
	view.Release()

	v.Collect()
	if !freed {
		t.Fatal("array should be freed once the managed object dies")
	}
}

func TestFreeGCHandle_Idempotent(t *testing.T) {
	v := newVM(t)
	obj := v.NewString("x")
	h, _ := v.NewGCHandle(obj, managed.Pinning)
	v.FreeGCHandle(h)
	v.FreeGCHandle(h)
	v.FreeGCHandle(managed.InvalidGCHandle)
	if _, ok := v.GCHandleTarget(h); ok {
		t.Fatal("freed handle should not resolve")
	}

	v.Collect()
	if v.IsAlive(obj) {
		t.Fatal("object should die once its only handle is freed")
	}
	if _, err := v.NewGCHandle(obj, managed.Strong); err == nil {
		t.Fatal("expected error for a dead target")
	}
}

func TestFreeGCHandle_StaleAfterReuse(t *testing.T) {
	v := newVM(t)
	a := v.NewString("a")
	b := v.NewString("b")

	stale, _ := v.NewGCHandle(a, managed.Strong)
	v.FreeGCHandle(stale)
	live, err := v.NewGCHandle(b, managed.Strong)
	if err != nil {
		t.Fatalf("NewGCHandle: %v", err)
	}
	if live == stale {
		t.Fatalf("reused slot issued the freed value %d again", stale)
	}

	if got, ok := v.GCHandleTarget(stale); ok {
		t.Fatalf("freed handle resolves to %#x", got)
	}
	if _, ok := v.GCHandleKind(stale); ok {
		t.Fatal("freed handle reports a kind")
	}

	v.FreeGCHandle(stale)
	v.Collect()

	moved, ok := v.GCHandleTarget(live)
	if !ok {
		t.Fatal("second free of a stale handle released the live one")
	}
	if s, _ := v.StringValue(moved); s != "b" {
		t.Fatalf("live target = %q, want %q", s, "b")
	}
}
