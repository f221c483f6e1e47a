package namespace

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/artifactgrid/pkg/artifact"
	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// VFS is the file-system view of one namespace. Paths are
// namespace-relative; a leading slash is optional. Directories are
// realized as zero-byte ".dir" marker objects plus the implicit parents
// of any stored file.
type VFS struct {
	registry *Registry
	info     *Info
	base     string
}

// NodeInfo describes one file or directory.
type NodeInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDir       bool      `json:"is_dir"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	ModTime     time.Time `json:"mod_time,omitempty"`
}

// StorageStats summarizes a namespace subtree.
type StorageStats struct {
	Files       int   `json:"files"`
	Directories int   `json:"directories"`
	TotalBytes  int64 `json:"total_bytes"`
}

// Info returns the namespace record this view is bound to.
func (v *VFS) Info() *Info { return v.info }

// resolve normalizes rel against the view's base. Parent references are
// rejected outright rather than silently clamped to the root.
func (v *VFS) resolve(rel string) (string, error) {
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", nsError(artifact.KindMalformedKey, nil, "path %q escapes the namespace", rel)
		}
	}
	p := rel
	if !strings.HasPrefix(p, "/") {
		p = path.Join(v.base, p)
	}
	p = path.Clean(p)
	if p == "." || p == "" {
		p = "/"
	}
	return p, nil
}

func (v *VFS) key(p string) string {
	return objectKey(v.info.GridPath, p)
}

// Cd returns a view rooted at dir. The directory does not have to exist
// yet; writes through the view create it.
func (v *VFS) Cd(dir string) (*VFS, error) {
	p, err := v.resolve(dir)
	if err != nil {
		return nil, err
	}
	return &VFS{registry: v.registry, info: v.info, base: p}, nil
}

// WriteBinary stores bytes at p, creating parents implicitly.
func (v *VFS) WriteBinary(ctx context.Context, p string, data []byte) error {
	return v.writeObject(ctx, p, data, "application/octet-stream", nil)
}

// WriteText stores a UTF-8 string at p.
func (v *VFS) WriteText(ctx context.Context, p, text string) error {
	return v.writeObject(ctx, p, []byte(text), "text/plain; charset=utf-8", nil)
}

// WriteFile stores bytes at p with an explicit content type.
func (v *VFS) WriteFile(ctx context.Context, p string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return v.writeObject(ctx, p, data, contentType, nil)
}

func (v *VFS) writeObject(ctx context.Context, p string, data []byte, contentType string, meta map[string]string) error {
	rp, err := v.resolve(p)
	if err != nil {
		return err
	}
	if rp == "/" || strings.HasSuffix(rp, "/") {
		return nsError(artifact.KindMalformedKey, nil, "cannot write a file at directory path %q", p)
	}
	if _, err := v.registry.storage.Put(ctx, storage.PutInput{
		Bucket:      v.registry.bucket,
		Key:         v.key(rp),
		Body:        data,
		ContentType: contentType,
		Metadata:    meta,
	}); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to write %q", rp)
	}
	return nil
}

// ReadBinary returns the bytes stored at p.
func (v *VFS) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	rp, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	obj, err := v.registry.storage.Get(ctx, v.registry.bucket, v.key(rp))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nsError(artifact.KindNotFound, err, "%q does not exist", rp)
		}
		return nil, nsError(artifact.KindProviderError, err, "failed to read %q", rp)
	}
	return obj.Body, nil
}

// ReadFile is an alias of ReadBinary.
func (v *VFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return v.ReadBinary(ctx, p)
}

// ReadText returns the file at p decoded as a string.
func (v *VFS) ReadText(ctx context.Context, p string) (string, error) {
	data, err := v.ReadBinary(ctx, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Touch creates an empty file at p when none exists. Existing files are
// left untouched.
func (v *VFS) Touch(ctx context.Context, p string) error {
	exists, err := v.Exists(ctx, p)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return v.writeObject(ctx, p, nil, "application/octet-stream", nil)
}

// Mkdir creates a directory marker at p. Parent directories are implied.
func (v *VFS) Mkdir(ctx context.Context, p string) error {
	rp, err := v.resolve(p)
	if err != nil {
		return err
	}
	if rp == "/" {
		return nil
	}
	if _, err := v.registry.storage.Put(ctx, storage.PutInput{
		Bucket:      v.registry.bucket,
		Key:         v.key(path.Join(rp, dirMarkerName)),
		Body:        nil,
		ContentType: "application/octet-stream",
	}); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to create directory %q", rp)
	}
	return nil
}

// Rmdir removes a directory. Non-empty directories require recursive.
func (v *VFS) Rmdir(ctx context.Context, p string, recursive bool) error {
	rp, err := v.resolve(p)
	if err != nil {
		return err
	}
	if rp == "/" {
		return nsError(artifact.KindAccessDenied, nil, "refusing to remove the namespace root")
	}

	keys, err := v.registry.listAllKeys(ctx, v.key(rp)+"/")
	if err != nil {
		return err
	}
	marker := v.key(path.Join(rp, dirMarkerName))
	for _, k := range keys {
		if k != marker && !recursive {
			return nsError(artifact.KindAccessDenied, nil, "directory %q is not empty", rp)
		}
	}
	if len(keys) == 0 {
		return nsError(artifact.KindNotFound, nil, "directory %q does not exist", rp)
	}
	if _, err := v.registry.storage.DeleteBatch(ctx, v.registry.bucket, keys); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to remove directory %q", rp)
	}
	return nil
}

// Rm removes the file at p. Directories are refused; use Rmdir.
func (v *VFS) Rm(ctx context.Context, p string) error {
	rp, err := v.resolve(p)
	if err != nil {
		return err
	}
	isDir, err := v.IsDir(ctx, rp)
	if err != nil {
		return err
	}
	if isDir {
		return nsError(artifact.KindAccessDenied, nil, "%q is a directory", rp)
	}
	if _, err := v.registry.storage.Head(ctx, v.registry.bucket, v.key(rp)); err != nil {
		if storage.IsNotFound(err) {
			return nsError(artifact.KindNotFound, err, "%q does not exist", rp)
		}
		return nsError(artifact.KindProviderError, err, "failed to stat %q", rp)
	}
	if err := v.registry.storage.Delete(ctx, v.registry.bucket, v.key(rp)); err != nil {
		return nsError(artifact.KindProviderError, err, "failed to remove %q", rp)
	}
	return nil
}

// Cp copies a file or directory subtree from src to dst.
func (v *VFS) Cp(ctx context.Context, src, dst string) error {
	rsrc, err := v.resolve(src)
	if err != nil {
		return err
	}
	rdst, err := v.resolve(dst)
	if err != nil {
		return err
	}

	isDir, err := v.IsDir(ctx, rsrc)
	if err != nil {
		return err
	}
	if !isDir {
		if _, cerr := v.registry.storage.Copy(ctx, v.registry.bucket, v.key(rsrc), v.key(rdst)); cerr != nil {
			if storage.IsNotFound(cerr) {
				return nsError(artifact.KindNotFound, cerr, "%q does not exist", rsrc)
			}
			return nsError(artifact.KindProviderError, cerr, "failed to copy %q", rsrc)
		}
		return nil
	}

	keys, err := v.registry.listAllKeys(ctx, v.key(rsrc)+"/")
	if err != nil {
		return err
	}
	srcPrefix := v.key(rsrc) + "/"
	dstPrefix := v.key(rdst) + "/"
	for _, k := range keys {
		if _, cerr := v.registry.storage.Copy(ctx, v.registry.bucket, k, dstPrefix+strings.TrimPrefix(k, srcPrefix)); cerr != nil {
			return nsError(artifact.KindProviderError, cerr, "failed to copy %q", k)
		}
	}
	return nil
}

// Mv moves a file or directory subtree from src to dst.
func (v *VFS) Mv(ctx context.Context, src, dst string) error {
	if err := v.Cp(ctx, src, dst); err != nil {
		return err
	}
	rsrc, err := v.resolve(src)
	if err != nil {
		return err
	}
	isDir, err := v.IsDir(ctx, rsrc)
	if err != nil {
		return err
	}
	if isDir {
		return v.Rmdir(ctx, rsrc, true)
	}
	return v.Rm(ctx, rsrc)
}

// Exists reports whether p names a file or directory.
func (v *VFS) Exists(ctx context.Context, p string) (bool, error) {
	isFile, err := v.IsFile(ctx, p)
	if err != nil {
		return false, err
	}
	if isFile {
		return true, nil
	}
	return v.IsDir(ctx, p)
}

// IsFile reports whether p names a stored object.
func (v *VFS) IsFile(ctx context.Context, p string) (bool, error) {
	rp, err := v.resolve(p)
	if err != nil {
		return false, err
	}
	if rp == "/" {
		return false, nil
	}
	_, herr := v.registry.storage.Head(ctx, v.registry.bucket, v.key(rp))
	if herr == nil {
		return true, nil
	}
	if storage.IsNotFound(herr) {
		return false, nil
	}
	return false, nsError(artifact.KindProviderError, herr, "failed to stat %q", rp)
}

// IsDir reports whether p names a directory, explicit (marker) or
// implicit (prefix of stored objects).
func (v *VFS) IsDir(ctx context.Context, p string) (bool, error) {
	rp, err := v.resolve(p)
	if err != nil {
		return false, err
	}
	if rp == "/" {
		return true, nil
	}
	res, lerr := v.registry.storage.List(ctx, v.registry.bucket, v.key(rp)+"/", 1)
	if lerr != nil {
		if storage.IsNotFound(lerr) {
			return false, nil
		}
		return false, nsError(artifact.KindProviderError, lerr, "failed to list %q", rp)
	}
	return len(res.Contents) > 0, nil
}

// Ls lists the immediate children of dir, directories first, each group
// sorted by name. Directory markers and the checkpoint area are hidden.
func (v *VFS) Ls(ctx context.Context, dir string) ([]NodeInfo, error) {
	rp, err := v.resolve(dir)
	if err != nil {
		return nil, err
	}

	prefix := v.key(rp)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := v.registry.listAllKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	files := make(map[string]int64)
	dirs := make(map[string]bool)
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		first, _, nested := strings.Cut(rel, "/")
		if rp == "/" && first == checkpointDir {
			continue
		}
		if nested {
			dirs[first] = true
			continue
		}
		if first == dirMarkerName {
			continue
		}
		info, herr := v.registry.storage.Head(ctx, v.registry.bucket, k)
		if herr != nil {
			continue
		}
		files[first] = info.ContentLength
	}

	out := make([]NodeInfo, 0, len(files)+len(dirs))
	for name := range dirs {
		out = append(out, NodeInfo{
			Name:  name,
			Path:  path.Join(rp, name),
			IsDir: true,
		})
	}
	for name, size := range files {
		out = append(out, NodeInfo{
			Name: name,
			Path: path.Join(rp, name),
			Size: size,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Find returns the paths under dir whose base name matches pattern
// (path.Match syntax). With recursive false only immediate children are
// considered.
func (v *VFS) Find(ctx context.Context, pattern, dir string, recursive bool) ([]string, error) {
	rp, err := v.resolve(dir)
	if err != nil {
		return nil, err
	}
	prefix := v.key(rp)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := v.registry.listAllKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		if strings.HasPrefix(rel, checkpointDir+"/") && rp == "/" {
			continue
		}
		base := path.Base(rel)
		if base == dirMarkerName {
			continue
		}
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		ok, merr := path.Match(pattern, base)
		if merr != nil {
			return nil, nsError(artifact.KindMalformedKey, merr, "bad pattern %q", pattern)
		}
		if ok {
			out = append(out, path.Join(rp, rel))
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetNodeInfo describes the node at p.
func (v *VFS) GetNodeInfo(ctx context.Context, p string) (*NodeInfo, error) {
	rp, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	info, herr := v.registry.storage.Head(ctx, v.registry.bucket, v.key(rp))
	if herr == nil {
		return &NodeInfo{
			Name:        path.Base(rp),
			Path:        rp,
			Size:        info.ContentLength,
			ContentType: info.ContentType,
			ModTime:     info.LastModified,
		}, nil
	}
	if !storage.IsNotFound(herr) {
		return nil, nsError(artifact.KindProviderError, herr, "failed to stat %q", rp)
	}

	isDir, derr := v.IsDir(ctx, rp)
	if derr != nil {
		return nil, derr
	}
	if !isDir {
		return nil, nsError(artifact.KindNotFound, nil, "%q does not exist", rp)
	}
	return &NodeInfo{Name: path.Base(rp), Path: rp, IsDir: true}, nil
}

// GetMetadata returns the user metadata attached to the file at p.
func (v *VFS) GetMetadata(ctx context.Context, p string) (map[string]string, error) {
	rp, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	info, herr := v.registry.storage.Head(ctx, v.registry.bucket, v.key(rp))
	if herr != nil {
		if storage.IsNotFound(herr) {
			return nil, nsError(artifact.KindNotFound, herr, "%q does not exist", rp)
		}
		return nil, nsError(artifact.KindProviderError, herr, "failed to stat %q", rp)
	}
	return info.Metadata, nil
}

// SetMetadata replaces the user metadata of the file at p. The object is
// rewritten; flat stores have no metadata-only update.
func (v *VFS) SetMetadata(ctx context.Context, p string, meta map[string]string) error {
	rp, err := v.resolve(p)
	if err != nil {
		return err
	}
	obj, gerr := v.registry.storage.Get(ctx, v.registry.bucket, v.key(rp))
	if gerr != nil {
		if storage.IsNotFound(gerr) {
			return nsError(artifact.KindNotFound, gerr, "%q does not exist", rp)
		}
		return nsError(artifact.KindProviderError, gerr, "failed to read %q", rp)
	}
	if _, perr := v.registry.storage.Put(ctx, storage.PutInput{
		Bucket:      v.registry.bucket,
		Key:         v.key(rp),
		Body:        obj.Body,
		ContentType: obj.ContentType,
		Metadata:    meta,
	}); perr != nil {
		return nsError(artifact.KindProviderError, perr, "failed to rewrite %q", rp)
	}
	return nil
}

// GetStorageStats summarizes the subtree under dir, checkpoints
// excluded.
func (v *VFS) GetStorageStats(ctx context.Context, dir string) (*StorageStats, error) {
	rp, err := v.resolve(dir)
	if err != nil {
		return nil, err
	}
	prefix := v.key(rp)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := v.registry.listAllKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{}
	dirs := make(map[string]bool)
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		if rp == "/" && strings.HasPrefix(rel, checkpointDir+"/") {
			continue
		}
		for d := path.Dir(rel); d != "." && d != "/"; d = path.Dir(d) {
			dirs[d] = true
		}
		if path.Base(rel) == dirMarkerName {
			continue
		}
		info, herr := v.registry.storage.Head(ctx, v.registry.bucket, k)
		if herr != nil {
			continue
		}
		stats.Files++
		stats.TotalBytes += info.ContentLength
	}
	stats.Directories = len(dirs)
	return stats, nil
}

// BatchReadFiles reads several files, mapping path to contents. Missing
// files are reported in the error map, not as a failure of the batch.
func (v *VFS) BatchReadFiles(ctx context.Context, paths []string) (map[string][]byte, map[string]error) {
	out := make(map[string][]byte, len(paths))
	errs := make(map[string]error)
	for _, p := range paths {
		data, err := v.ReadBinary(ctx, p)
		if err != nil {
			errs[p] = err
			continue
		}
		out[p] = data
	}
	return out, errs
}

// BatchWriteFiles writes several files, mapping path to contents.
func (v *VFS) BatchWriteFiles(ctx context.Context, files map[string][]byte) map[string]error {
	errs := make(map[string]error)
	for p, data := range files {
		if err := v.WriteBinary(ctx, p, data); err != nil {
			errs[p] = err
		}
	}
	return errs
}

// BatchCreateFiles touches several paths.
func (v *VFS) BatchCreateFiles(ctx context.Context, paths []string) map[string]error {
	errs := make(map[string]error)
	for _, p := range paths {
		if err := v.Touch(ctx, p); err != nil {
			errs[p] = err
		}
	}
	return errs
}

// BatchDeleteFiles removes several files.
func (v *VFS) BatchDeleteFiles(ctx context.Context, paths []string) map[string]error {
	errs := make(map[string]error)
	for _, p := range paths {
		if err := v.Rm(ctx, p); err != nil {
			errs[p] = err
		}
	}
	return errs
}
