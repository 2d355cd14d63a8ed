package topology

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	defaultConfigMapName = "clocktree-boards"
)

// ConfigMapLoader loads board clock trees overriding the embedded ones from
// a ConfigMap. Each board is stored under its name with '/' replaced by '-'.
type ConfigMapLoader struct {
	client        kubernetes.Interface
	namespace     string
	configMapName string
}

// NewConfigMapLoader creates a new ConfigMap loader
func NewConfigMapLoader(kubeClient kubernetes.Interface, namespace, name string) *ConfigMapLoader {
	if name == "" {
		name = defaultConfigMapName
	}
	return &ConfigMapLoader{
		client:        kubeClient,
		namespace:     namespace,
		configMapName: name,
	}
}

// Load returns the clock tree of board from the ConfigMap.
// Returns nil if the ConfigMap or the key does not exist: the caller falls
// back to the embedded description.
func (l *ConfigMapLoader) Load(ctx context.Context, board string) (*ClockTree, error) {
	cm, err := l.client.CoreV1().ConfigMaps(l.namespace).Get(ctx, l.configMapName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		glog.V(4).Infof("ConfigMap %s/%s not found, using embedded clock trees", l.namespace, l.configMapName)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap %s/%s: %w", l.namespace, l.configMapName, err)
	}

	key := strings.ReplaceAll(board, "/", "-")
	data, ok := cm.Data[key]
	if !ok {
		glog.V(4).Infof("No clock tree for %s in ConfigMap %s/%s", board, l.namespace, l.configMapName)
		return nil, nil
	}
	tree, err := Load([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("ConfigMap %s/%s key %s: %w", l.namespace, l.configMapName, key, err)
	}
	glog.Infof("Loaded clock tree for %s from ConfigMap %s/%s", board, l.namespace, l.configMapName)
	return tree, nil
}

// Resolve returns the clock tree of board, from the ConfigMap when the
// loader is set and has one, from the embedded descriptions otherwise.
func Resolve(ctx context.Context, l *ConfigMapLoader, board string) (*ClockTree, error) {
	if l != nil {
		tree, err := l.Load(ctx, board)
		if err != nil || tree != nil {
			return tree, err
		}
	}
	return LoadEmbedded(board)
}
