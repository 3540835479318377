package catalog

// SeedProducts is the demo catalog.
var SeedProducts = []Product{
	{
		ID:          "prod-001",
		Name:        "iPhone 15 Pro",
		Category:    "smartphones",
		Price:       39900.00,
		Description: "Latest iPhone with A17 Pro chip, titanium design, and advanced camera system",
		InStock:     true,
		Specifications: map[string]string{
			"display":      "6.1-inch Super Retina XDR",
			"chip":         "A17 Pro",
			"storage":      "128GB, 256GB, 512GB, 1TB",
			"camera":       "48MP Main, 12MP Ultra Wide, 12MP Telephoto",
			"connectivity": "5G, WiFi 6E, Bluetooth 5.3",
		},
	},
	{
		ID:          "prod-002",
		Name:        "Samsung Galaxy S24 Ultra",
		Category:    "smartphones",
		Price:       42900.00,
		Description: "Premium Android phone with S Pen, 200MP camera, and AI features",
		InStock:     true,
		Specifications: map[string]string{
			"display":   "6.8-inch Dynamic AMOLED 2X",
			"processor": "Snapdragon 8 Gen 3",
			"battery":   "5000mAh with 45W fast charging",
		},
	},
	{
		ID:          "prod-003",
		Name:        "MacBook Air M3",
		Category:    "laptops",
		Price:       42900.00,
		Description: "Lightweight laptop with M3 chip, 13-inch Liquid Retina display",
		InStock:     false,
		Specifications: map[string]string{
			"display": "13.6-inch Liquid Retina",
			"memory":  "8GB, 16GB, 24GB unified memory",
			"ports":   "2x Thunderbolt / USB 4, 3.5mm headphone jack, MagSafe 3",
		},
	},
	{
		ID:          "prod-004",
		Name:        "AirPods Pro (3rd generation)",
		Category:    "audio",
		Price:       8900.00,
		Description: "Wireless earbuds with active noise cancellation and spatial audio",
		InStock:     true,
	},
	{
		ID:          "prod-007",
		Name:        "Dell XPS 13",
		Category:    "laptops",
		Price:       35900.00,
		Description: "Premium ultrabook with Intel 13th Gen processors and InfinityEdge display",
		InStock:     true,
	},
	{
		ID:          "prod-009",
		Name:        "Acer Aspire 5 A515-58",
		Category:    "laptops",
		Price:       28900.00,
		Description: "Budget laptop Intel Core i5, 8GB RAM, 512GB SSD for everyday office work",
		InStock:     true,
		Specifications: map[string]string{
			"display":   "15.6-inch Full HD IPS",
			"processor": "Intel Core i5-1235U",
			"storage":   "512GB NVMe SSD",
		},
	},
	{
		ID:          "acc-101",
		Name:        "Anker USB-C to USB-C Cable 1m",
		Category:    "accessories",
		Price:       390.00,
		Description: "Braided USB-C cable, 100W power delivery, USB 2.0 data",
		InStock:     true,
		Specifications: map[string]string{"length": "1m", "power": "100W"},
	},
	{
		ID:          "acc-102",
		Name:        "Ugreen USB-C Cable 2m",
		Category:    "accessories",
		Price:       450.00,
		Description: "USB-C to USB-C cable, 60W charging, nylon jacket",
		InStock:     true,
		Specifications: map[string]string{"length": "2m", "power": "60W"},
	},
	{
		ID:          "acc-103",
		Name:        "Belkin USB-C to Lightning Cable",
		Category:    "accessories",
		Price:       690.00,
		Description: "MFi certified USB-C to Lightning cable for fast charging",
		InStock:     true,
		Specifications: map[string]string{"length": "1.2m"},
	},
	{
		ID:          "acc-104",
		Name:        "HDMI 2.1 Cable 2m",
		Category:    "accessories",
		Price:       520.00,
		Description: "8K HDMI cable for monitors and projectors",
		InStock:     false,
	},
	{
		ID:          "off-201",
		Name:        "A4 Copy Paper 80gsm (500 sheets)",
		Category:    "office",
		Price:       129.00,
		Description: "Ream of white A4 copy paper for laser and inkjet printers",
		InStock:     true,
	},
}
