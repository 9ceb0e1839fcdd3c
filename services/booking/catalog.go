package booking

import "slotbook/models"

// DefaultCatalog is the published consultation offering. The backend's
// get_services action was dropped in later scenario revisions, so the list
// ships with the client and only availability is fetched.
func DefaultCatalog() []models.Service {
	return []models.Service{
		{
			ID:          "diagnostic",
			Name:        "Диагностика",
			Description: "Первичная консультация для знакомства и определения запроса",
			Price:       0,
			DurationMin: 30,
			Icon:        "🎯",
		},
		{
			ID:          "single",
			Name:        "Индивидуальная консультация",
			Description: "Персональная встреча один на один, 1 час",
			Price:       8000,
			DurationMin: 60,
			Icon:        "💼",
		},
		{
			ID:          "family",
			Name:        "Семейная консультация",
			Description: "Работа с парой или семьёй, длительность 2 часа",
			Price:       12000,
			DurationMin: 120,
			Icon:        "👨‍👩‍👧",
		},
		{
			ID:          "package",
			Name:        "Пакет консультаций",
			Description: "10 индивидуальных сессий со скидкой 25%",
			Price:       60000,
			DurationMin: 60,
			Icon:        "📦",
		},
		{
			ID:          "club",
			Name:        "Вступить в клуб",
			Description: "Эксклюзивный доступ к закрытому сообществу и материалам",
			Price:       3000,
			DurationMin: 0,
			Icon:        "🌟",
		},
	}
}

// FindService looks a service up by ID in the given catalog.
func FindService(catalog []models.Service, id string) (models.Service, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return models.Service{}, false
}
