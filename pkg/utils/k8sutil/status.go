package k8sutil

import v1 "k8s.io/api/core/v1"

// IsPodReady reports whether the pod has a Ready condition with status true.
func IsPodReady(p *v1.Pod) bool {
	for _, c := range p.Status.Conditions {
		if c.Type == v1.PodReady && c.Status == v1.ConditionTrue {
			return true
		}
	}
	return false
}
