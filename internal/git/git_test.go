package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/bank/ops.py b/bank/ops.py
index 3b18e51..a4c2f0d 100644
--- a/bank/ops.py
+++ b/bank/ops.py
@@ -10,2 +10,3 @@ def withdraw(balance: int, amount: int) -> int:
+    if amount > balance:
+        raise ValueError("insufficient funds")
+    return balance - amount
@@ -40 +41 @@ def deposit(balance: int, amount: int) -> int:
-    return balance
+    return balance + amount
@@ -60,3 +60,0 @@ def audit(x: int) -> int:
-    pass
diff --git a/bank/old.py b/bank/old.py
deleted file mode 100644
--- a/bank/old.py
+++ /dev/null
@@ -1,2 +0,0 @@
-def gone():
-    pass
diff --git a/docs/notes.md b/docs/notes.md
--- a/docs/notes.md
+++ b/docs/notes.md
@@ -1 +1 @@
-a
+b
diff --git a/new.py b/new.py
new file mode 100644
--- /dev/null
+++ b/new.py
@@ -0,0 +1,2 @@
+def added(x: int) -> int:
+    return x
`

func TestParseDiff(t *testing.T) {
	changes, err := parseDiff([]byte(sampleDiff))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "bank/ops.py", changes[0].Path)
	assert.Equal(t, []int{10, 11, 12, 41, 60}, changes[0].ChangedLines)
	assert.Equal(t, "new.py", changes[1].Path)
	assert.Equal(t, []int{1, 2}, changes[1].ChangedLines)
}

func TestParseDiff_Malformed(t *testing.T) {
	_, err := parseDiff([]byte("diff --git a/x.py b/x.py\n+++ b/x.py\n@@ garbage @@\n"))
	assert.ErrorContains(t, err, "malformed hunk header")
}

func TestTouches(t *testing.T) {
	changes, err := parseDiff([]byte(sampleDiff))
	require.NoError(t, err)
	touches := Touches(changes)

	tests := []struct {
		name       string
		path       string
		start, end int
		want       bool
	}{
		{"span covers hunk", "bank/ops.py", 8, 14, true},
		{"single line", "./bank/ops.py", 41, 41, true},
		{"between hunks", "bank/ops.py", 20, 35, false},
		{"deletion anchor", "bank/ops.py", 55, 62, true},
		{"unchanged file", "bank/models.py", 1, 100, false},
		{"new file", "new.py", 1, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, touches(tt.path, tt.start, tt.end))
		})
	}
	assert.Equal(t, []string{"bank/ops.py", "new.py"}, Paths(changes))
}
